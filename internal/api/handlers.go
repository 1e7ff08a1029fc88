package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/randevly/randevly/internal/notify"
	appErrors "github.com/randevly/randevly/pkg/errors"
	"github.com/randevly/randevly/pkg/response"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	snap := h.deps.Health.Collect(c.Request.Context())

	status := http.StatusOK
	if snap.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, snap)
}

func (h *handlers) rateLimitStatus(c *gin.Context) {
	businessID := strings.TrimSpace(c.Param("businessID"))
	if businessID == "" {
		response.Error(c, appErrors.NewBadRequest("business id is required"))
		return
	}

	status, err := h.deps.Limiter.Status(c.Request.Context(), businessID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

type sendRequest struct {
	Kind string `json:"kind"`
	notify.DispatchRequest
}

func (h *handlers) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request body"))
		return
	}

	kind := notify.Kind(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = notify.KindTransactional
	}

	result, err := h.deps.Gateway.Send(c.Request.Context(), kind, req.DispatchRequest)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *handlers) sendBulk(c *gin.Context) {
	var req notify.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request body"))
		return
	}

	result, err := h.deps.Gateway.SendBulk(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *handlers) subscribe(c *gin.Context) {
	var input notify.SubscribeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request body"))
		return
	}

	sub, err := h.deps.Subscriptions.Subscribe(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
}

func (h *handlers) unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request body"))
		return
	}

	if err := h.deps.Subscriptions.Unsubscribe(c.Request.Context(), req.UserID, req.Endpoint); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unsubscribed": true})
}

func (h *handlers) listSubscriptions(c *gin.Context) {
	subs, err := h.deps.Subscriptions.ListActive(c.Request.Context(), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, subs)
}

func (h *handlers) getPreferences(c *gin.Context) {
	prefs, err := h.deps.Preferences.Get(c.Request.Context(), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}

func (h *handlers) updatePreferences(c *gin.Context) {
	var input notify.UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request body"))
		return
	}

	prefs, err := h.deps.Preferences.Update(c.Request.Context(), c.Param("userID"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}
