package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	appErrors "github.com/randevly/randevly/pkg/errors"
	"github.com/randevly/randevly/pkg/logger"
	"github.com/randevly/randevly/pkg/mail"
	"github.com/randevly/randevly/pkg/metrics"
	"github.com/randevly/randevly/pkg/sms"
	"github.com/randevly/randevly/pkg/validator"
)

// bulkConcurrency caps parallel per-recipient dispatches during a bulk fan-out.
const bulkConcurrency = 10

// Gateway is the single entry point for sending notifications. Every send
// flows through policy resolution, quiet hours, and rate limiting before a
// channel is attempted.
type Gateway struct {
	db       *gorm.DB
	resolver *ChannelResolver
	limiter  *RateLimiter
	worker   *DeliveryWorker
	sms      sms.Sender
	mailer   mail.Mailer
	now      func() time.Time
	log      *zap.Logger
}

// GatewayOption customises the gateway.
type GatewayOption func(*Gateway)

// WithGatewayNow overrides the clock, primarily for tests.
func WithGatewayNow(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway wires the dispatch pipeline. The SMS sender and mailer may be
// nil; their channels are then skipped with an explanatory reason instead
// of failing the whole dispatch.
func NewGateway(db *gorm.DB, resolver *ChannelResolver, limiter *RateLimiter, worker *DeliveryWorker, smsSender sms.Sender, mailer mail.Mailer, opts ...GatewayOption) (*Gateway, error) {
	if db == nil {
		return nil, errors.New("gateway: db is required")
	}
	if resolver == nil {
		return nil, errors.New("gateway: resolver is required")
	}
	if limiter == nil {
		return nil, errors.New("gateway: rate limiter is required")
	}
	if worker == nil {
		return nil, errors.New("gateway: delivery worker is required")
	}

	g := &Gateway{
		db:       db,
		resolver: resolver,
		limiter:  limiter,
		worker:   worker,
		sms:      smsSender,
		mailer:   mailer,
		now:      time.Now,
		log:      logger.WithModule("notify.gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Send dispatches one notification to one recipient. The returned result
// enumerates per-channel outcomes; an error is returned only when the
// dispatch as a whole could not proceed.
func (g *Gateway) Send(ctx context.Context, kind Kind, req DispatchRequest) (DispatchResult, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(req); err != nil {
		return DispatchResult{}, appErrors.NewBadRequest(err.Error())
	}

	switch kind {
	case KindTransactional, KindMarketing, KindSystemAlert:
	default:
		return DispatchResult{}, appErrors.NewBadRequest("unknown notification kind")
	}

	// Overrides are a transactional privilege.
	if kind != KindTransactional {
		req.ForceChannels = nil
		req.IgnoreQuietHours = false
	}

	if kind == KindMarketing {
		pref, err := g.resolver.Preference(ctx, req.UserID)
		if err != nil {
			return DispatchResult{}, err
		}
		if pref == nil || !pref.PromotionalEnabled {
			result := DispatchResult{}
			result.skip(ChannelPush, "promotional notifications disabled")
			g.count(kind, ChannelPush, "skipped")
			return result, nil
		}
	}

	decision, err := g.limiter.Check(ctx, req.BusinessID, 1)
	if err != nil {
		return DispatchResult{}, err
	}
	if !decision.Allowed {
		g.log.Info("dispatch rejected by rate limiter",
			zap.String("business_id", req.BusinessID),
			zap.String("code", decision.Code))
		result := DispatchResult{RetryAfter: decision.RetryAfter}
		result.skipWithCode(ChannelPush, decision.Reason, decision.Code)
		g.count(kind, ChannelPush, "skipped")
		return result, nil
	}

	if !req.IgnoreQuietHours {
		quiet, reason, err := g.resolver.QuietReason(ctx, req.BusinessID, req.UserID, g.now())
		if err != nil {
			return DispatchResult{}, err
		}
		if quiet {
			result := DispatchResult{}
			result.skip(ChannelPush, reason)
			g.count(kind, ChannelPush, "skipped")
			return result, nil
		}
	}

	channels, excluded, err := g.resolver.Resolve(ctx, req.BusinessID, req.UserID, req.ForceChannels)
	if err != nil {
		return DispatchResult{}, err
	}
	if len(channels) == 0 && len(excluded) == 0 {
		result := DispatchResult{}
		result.skip(ChannelPush, "no enabled channels for recipient")
		g.count(kind, ChannelPush, "skipped")
		return result, nil
	}

	result := g.dispatch(ctx, kind, req, channels, excluded)

	if result.Success {
		g.limiter.RecordUsage(ctx, req.BusinessID, 1, string(kind))
	}
	return result, nil
}

// SendBulk fans one transactional message out to every recipient. The
// quota check covers the whole batch up front; individual failures are
// collected, never propagated as errors.
func (g *Gateway) SendBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(req); err != nil {
		return BulkResult{}, appErrors.NewBadRequest(err.Error())
	}

	userIDs := uniqueIDs(req.UserIDs)
	if len(userIDs) == 0 {
		return BulkResult{}, appErrors.NewBadRequest("at least one recipient is required")
	}

	decision, err := g.limiter.Check(ctx, req.BusinessID, len(userIDs))
	if err != nil {
		return BulkResult{}, err
	}
	if !decision.Allowed {
		return BulkResult{}, appErrors.ErrRateLimited.WithInternal(errors.New(decision.Reason))
	}

	out := BulkResult{
		Total:   len(userIDs),
		Results: make(map[string]DispatchResult, len(userIDs)),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, bulkConcurrency)
	)

	for _, userID := range userIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			single := DispatchRequest{
				BusinessID:   req.BusinessID,
				UserID:       userID,
				Title:        req.Title,
				Body:         req.Body,
				EmailSubject: req.EmailSubject,
				EmailHTML:    req.EmailHTML,
				Payload:      req.Payload,
			}

			result, sendErr := g.sendOne(ctx, single)

			mu.Lock()
			defer mu.Unlock()
			if sendErr != nil {
				result = DispatchResult{}
				result.fail(ChannelPush, sendErr)
			}
			out.Results[userID] = result
			if result.Success {
				out.Succeeded++
			} else {
				out.Failed++
			}
		}(userID)
	}
	wg.Wait()

	if out.Succeeded > 0 {
		g.limiter.RecordUsage(ctx, req.BusinessID, out.Succeeded, string(KindTransactional))
	}
	return out, nil
}

// sendOne is the per-recipient path inside a bulk dispatch. Quota and
// usage bookkeeping are handled by the batch; quiet hours and channel
// policy still apply per recipient.
func (g *Gateway) sendOne(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	quiet, reason, err := g.resolver.QuietReason(ctx, req.BusinessID, req.UserID, g.now())
	if err != nil {
		return DispatchResult{}, err
	}
	if quiet {
		result := DispatchResult{}
		result.skip(ChannelPush, reason)
		return result, nil
	}

	channels, excluded, err := g.resolver.Resolve(ctx, req.BusinessID, req.UserID, nil)
	if err != nil {
		return DispatchResult{}, err
	}
	if len(channels) == 0 && len(excluded) == 0 {
		result := DispatchResult{}
		result.skip(ChannelPush, "no enabled channels for recipient")
		return result, nil
	}

	return g.dispatch(ctx, KindTransactional, req, channels, excluded), nil
}

// SendSystemAlert notifies the tenant's owner about an operational event.
// Recipient preferences are not consulted but tenant-level channel toggles
// are; SMS is never used. Email is the fallback when push is disabled or
// the owner has no active push subscription.
func (g *Gateway) SendSystemAlert(ctx context.Context, businessID, title, body string) (DispatchResult, error) {
	ctx = ensureContext(ctx)
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return DispatchResult{}, appErrors.NewBadRequest("business id is required")
	}

	var business models.Business
	if err := g.db.WithContext(ctx).First(&business, "id = ?", businessID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DispatchResult{}, appErrors.ErrNotFound
		}
		return DispatchResult{}, fmt.Errorf("gateway: load business: %w", err)
	}

	settings, _, err := g.resolver.Settings(ctx, businessID)
	if err != nil {
		return DispatchResult{}, err
	}

	result := DispatchResult{}
	req := DispatchRequest{
		BusinessID: businessID,
		UserID:     business.OwnerID,
		Title:      title,
		Body:       body,
		Payload:    Payload{Type: "system_alert", BusinessID: businessID},
	}

	delivered := false
	if business.OwnerID != "" && settings.PushEnabled {
		if err := g.sendPush(ctx, req, &result); err == nil && len(result.Sent) > 0 {
			delivered = true
		}
	} else if !settings.PushEnabled {
		result.skip(ChannelPush, "push disabled for business")
	}

	if !delivered {
		email := strings.TrimSpace(business.ContactEmail)
		switch {
		case !settings.EmailEnabled:
			result.skip(ChannelEmail, "email disabled for business")
		case email == "":
			result.skip(ChannelEmail, "business has no contact email")
		default:
			if err := g.deliverEmail(ctx, req, email); err != nil {
				result.fail(ChannelEmail, err)
			} else {
				result.sent(ChannelEmail)
			}
		}
	}

	for _, ch := range result.Sent {
		g.count(KindSystemAlert, ch, "sent")
	}
	if result.Success {
		g.limiter.RecordUsage(ctx, businessID, 1, string(KindSystemAlert))
	}
	return result, nil
}

// dispatch attempts every resolved channel independently. One channel
// failing never prevents the others from being tried. Channels the
// resolver excluded are carried into the result as skips.
func (g *Gateway) dispatch(ctx context.Context, kind Kind, req DispatchRequest, channels []Channel, excluded []SkippedChannel) DispatchResult {
	result := DispatchResult{Skipped: excluded}

	for _, ch := range channels {
		var err error
		switch ch {
		case ChannelPush:
			err = g.sendPush(ctx, req, &result)
		case ChannelSMS:
			err = g.sendSMS(ctx, req, &result)
		case ChannelEmail:
			err = g.sendEmail(ctx, req, &result)
		default:
			continue
		}
		if err != nil {
			result.fail(ch, err)
			g.count(kind, ch, "failed")
			g.log.Warn("channel dispatch failed",
				zap.String("channel", string(ch)),
				zap.String("business_id", req.BusinessID),
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
	}

	for _, ch := range result.Sent {
		g.count(kind, ch, "sent")
	}
	for _, skipped := range result.Skipped {
		g.count(kind, skipped.Channel, "skipped")
	}
	return result
}

// sendPush persists one pending record per active subscription and hands
// them to the delivery worker. A full queue leaves records pending; the
// cleanup job fails pending records that were never delivered.
func (g *Gateway) sendPush(ctx context.Context, req DispatchRequest, result *DispatchResult) error {
	var subs []models.PushSubscription
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", req.UserID, true).
		Find(&subs).Error
	if err != nil {
		return fmt.Errorf("gateway: load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		result.skip(ChannelPush, "no active push subscriptions")
		return nil
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("gateway: encode payload: %w", err)
	}

	enqueued := 0
	for _, sub := range subs {
		notification := models.PushNotification{
			SubscriptionID: sub.ID,
			AppointmentID:  req.Payload.AppointmentID,
			BusinessID:     req.BusinessID,
			Title:          req.Title,
			Body:           req.Body,
			Payload:        datatypes.JSON(payload),
			Status:         models.PushStatusPending,
		}
		if err := g.db.WithContext(ctx).Create(&notification).Error; err != nil {
			return fmt.Errorf("gateway: create push notification: %w", err)
		}
		if err := g.worker.Enqueue(notification.ID); err == nil {
			enqueued++
		}
	}

	if enqueued == 0 && len(subs) > 0 {
		// The queue is saturated. The records stay pending until the cleanup
		// job marks them failed; the dispatch itself is accepted.
		g.log.Warn("all push enqueues dropped", zap.String("user_id", req.UserID))
	}
	result.sent(ChannelPush)
	return nil
}

func (g *Gateway) sendSMS(ctx context.Context, req DispatchRequest, result *DispatchResult) error {
	if g.sms == nil {
		result.skip(ChannelSMS, "sms delivery not configured")
		return nil
	}

	decision, err := g.limiter.CheckSMS(ctx, req.BusinessID, 1)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		result.skip(ChannelSMS, decision.Reason)
		return nil
	}

	var user models.User
	if err := g.db.WithContext(ctx).First(&user, "id = ?", req.UserID).Error; err != nil {
		return fmt.Errorf("gateway: load user: %w", err)
	}
	if strings.TrimSpace(user.Phone) == "" {
		result.skip(ChannelSMS, "user has no phone number")
		return nil
	}

	_, err = g.sms.Send(ctx, sms.Message{To: user.Phone, Body: req.Title + "\n" + req.Body})
	if err != nil {
		if errors.Is(err, sms.ErrSMSDisabled) {
			result.skip(ChannelSMS, "sms delivery disabled")
			return nil
		}
		return err
	}

	g.limiter.RecordUsage(ctx, req.BusinessID, 1, "sms")
	result.sent(ChannelSMS)
	return nil
}

func (g *Gateway) sendEmail(ctx context.Context, req DispatchRequest, result *DispatchResult) error {
	var user models.User
	if err := g.db.WithContext(ctx).First(&user, "id = ?", req.UserID).Error; err != nil {
		return fmt.Errorf("gateway: load user: %w", err)
	}
	if strings.TrimSpace(user.Email) == "" {
		result.skip(ChannelEmail, "user has no email address")
		return nil
	}

	if err := g.deliverEmail(ctx, req, user.Email); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			result.skip(ChannelEmail, "email delivery disabled")
			return nil
		}
		return err
	}
	result.sent(ChannelEmail)
	return nil
}

func (g *Gateway) deliverEmail(ctx context.Context, req DispatchRequest, to string) error {
	if g.mailer == nil {
		return mail.ErrSMTPDisabled
	}

	subject := strings.TrimSpace(req.EmailSubject)
	if subject == "" {
		subject = req.Title
	}

	return g.mailer.Send(ctx, mail.Message{
		To:       []string{to},
		Subject:  subject,
		TextBody: req.Body,
		HTMLBody: req.EmailHTML,
	})
}

func (g *Gateway) count(kind Kind, channel Channel, outcome string) {
	metrics.Dispatches.WithLabelValues(string(kind), string(channel), outcome).Inc()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
