package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"github.com/randevly/randevly/internal/models"
)

// ErrPushDisabled is returned when no VAPID key pair is configured.
var ErrPushDisabled = errors.New("web push is not configured")

// ProviderResponse carries the provider's verdict on one delivery attempt.
type ProviderResponse struct {
	StatusCode int
	Body       string
}

// Permanent reports whether the response proves the subscription is dead.
// 404 and 410 mean the push service no longer knows the endpoint; some
// services answer 200 with an explanatory body instead.
func (r ProviderResponse) Permanent() bool {
	if r.StatusCode == 404 || r.StatusCode == 410 {
		return true
	}
	body := strings.ToLower(r.Body)
	return strings.Contains(body, "expired") || strings.Contains(body, "unsubscribed")
}

// PushProvider delivers one encrypted message to a push endpoint.
type PushProvider interface {
	Send(ctx context.Context, sub models.PushSubscription, message []byte) (ProviderResponse, error)
}

// WebPushConfig holds VAPID credentials and delivery tuning.
type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTLSeconds      int
	// RequestsPerSecond throttles outbound pushes across all workers.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// Enabled reports whether the key pair is present.
func (c WebPushConfig) Enabled() bool {
	return strings.TrimSpace(c.VAPIDPublicKey) != "" && strings.TrimSpace(c.VAPIDPrivateKey) != ""
}

// WebPushProvider sends Web Push messages signed with the configured VAPID
// key pair.
type WebPushProvider struct {
	cfg     WebPushConfig
	limiter *rate.Limiter
}

// NewWebPushProvider constructs a provider. It fails when the VAPID key
// pair is missing so callers decide explicitly how to run without push.
func NewWebPushProvider(cfg WebPushConfig) (*WebPushProvider, error) {
	if !cfg.Enabled() {
		return nil, ErrPushDisabled
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 3600
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	return &WebPushProvider{cfg: cfg, limiter: limiter}, nil
}

// Send pushes one message to the subscription's endpoint.
func (p *WebPushProvider) Send(ctx context.Context, sub models.PushSubscription, message []byte) (ProviderResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ProviderResponse{}, fmt.Errorf("web push: throttle: %w", err)
		}
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, message, target, &webpush.Options{
		Subscriber:      p.cfg.Subscriber,
		VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
		TTL:             p.cfg.TTLSeconds,
	})
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("web push: send: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	out := ProviderResponse{StatusCode: resp.StatusCode, Body: string(body)}

	if resp.StatusCode >= 400 && !out.Permanent() {
		return out, fmt.Errorf("web push: endpoint returned status %d", resp.StatusCode)
	}
	return out, nil
}

// backoffDelay returns the wait before retry attempt n (1-based),
// doubling from one second and capped at one minute.
func backoffDelay(attempt int) time.Duration {
	delay := time.Second << uint(attempt-1)
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
