package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randevly/randevly/internal/middleware"
	"github.com/randevly/randevly/internal/monitoring"
	"github.com/randevly/randevly/internal/notify"
)

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Health        *monitoring.Collector
	Gateway       *notify.Gateway
	Limiter       *notify.RateLimiter
	Subscriptions *notify.SubscriptionService
	Preferences   *notify.PreferenceService
}

// NewRouter builds the gin engine with the full route table.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{deps: deps}

	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.GET("/health/ratelimit/:businessID", h.rateLimitStatus)

		notifications := api.Group("/notifications")
		{
			notifications.POST("/send", h.send)
			notifications.POST("/bulk", h.sendBulk)
		}

		subscriptions := api.Group("/push/subscriptions")
		{
			subscriptions.POST("", h.subscribe)
			subscriptions.DELETE("", h.unsubscribe)
			subscriptions.GET("/:userID", h.listSubscriptions)
		}

		preferences := api.Group("/preferences")
		{
			preferences.GET("/:userID", h.getPreferences)
			preferences.PUT("/:userID", h.updatePreferences)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
