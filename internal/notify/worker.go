package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/pkg/logger"
	"github.com/randevly/randevly/pkg/metrics"
)

// ErrQueueFull is returned by Enqueue when the delivery queue is saturated.
var ErrQueueFull = errors.New("push delivery queue is full")

// pushMessage is the JSON document handed to the service worker.
type pushMessage struct {
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	Payload Payload `json:"data,omitempty"`
}

// WorkerConfig tunes the delivery worker pool.
type WorkerConfig struct {
	QueueSize int
	Workers   int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// DeliveryWorker drains queued push notifications and drives each record
// to a terminal status. Enqueue never blocks the caller; when the queue is
// full the record stays pending and the drop is counted.
type DeliveryWorker struct {
	db       *gorm.DB
	provider PushProvider
	cfg      WorkerConfig
	log      *zap.Logger

	queue chan string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeliveryWorker constructs a worker pool. The provider may be nil when
// push is not configured; enqueued work then fails fast with a clear error
// recorded on the notification.
func NewDeliveryWorker(db *gorm.DB, provider PushProvider, cfg WorkerConfig) (*DeliveryWorker, error) {
	if db == nil {
		return nil, errors.New("delivery worker: db is required")
	}
	cfg = cfg.withDefaults()

	return &DeliveryWorker{
		db:       db,
		provider: provider,
		cfg:      cfg,
		log:      logger.WithModule("notify.worker"),
		queue:    make(chan string, cfg.QueueSize),
		sleep:    sleepContext,
	}, nil
}

// Start launches the worker pool. Calling Start twice is a no-op.
func (w *DeliveryWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ensureContext(ctx))
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
	w.log.Info("delivery workers started",
		zap.Int("workers", w.cfg.Workers),
		zap.Int("queue_size", w.cfg.QueueSize))
}

// Stop signals the pool and waits for in-flight deliveries to finish.
func (w *DeliveryWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.log.Info("delivery workers stopped")
}

// Enqueue hands a pending notification to the pool without blocking.
func (w *DeliveryWorker) Enqueue(notificationID string) error {
	select {
	case w.queue <- notificationID:
		metrics.PushQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		metrics.PushQueueDropped.Inc()
		w.log.Warn("push queue full, notification left pending",
			zap.String("notification_id", notificationID))
		return ErrQueueFull
	}
}

// Depth reports the number of queued deliveries.
func (w *DeliveryWorker) Depth() int {
	return len(w.queue)
}

func (w *DeliveryWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.queue:
			metrics.PushQueueDepth.Set(float64(len(w.queue)))
			if err := w.deliver(ctx, id); err != nil {
				w.log.Error("delivery failed", zap.String("notification_id", id), zap.Error(err))
			}
		}
	}
}

// deliver drives one notification to a terminal status.
func (w *DeliveryWorker) deliver(ctx context.Context, id string) error {
	var notification models.PushNotification
	if err := w.db.WithContext(ctx).First(&notification, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("delivery worker: load notification: %w", err)
	}
	if notification.IsTerminal() {
		return nil
	}

	if w.provider == nil {
		w.markFailed(ctx, &notification, ErrPushDisabled.Error())
		return nil
	}

	var sub models.PushSubscription
	if err := w.db.WithContext(ctx).First(&sub, "id = ?", notification.SubscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			w.markFailed(ctx, &notification, "subscription no longer exists")
			return nil
		}
		return fmt.Errorf("delivery worker: load subscription: %w", err)
	}
	if !sub.IsActive {
		w.markFailed(ctx, &notification, "subscription is inactive")
		return nil
	}

	message, err := w.encode(&notification)
	if err != nil {
		w.markFailed(ctx, &notification, err.Error())
		return nil
	}

	maxRetries := notification.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, sendErr := w.provider.Send(ctx, sub, message)
		if sendErr == nil && resp.StatusCode < 400 && !resp.Permanent() {
			w.markSent(ctx, &notification, &sub)
			metrics.PushDeliveries.WithLabelValues("sent").Inc()
			return nil
		}

		if resp.Permanent() {
			// The endpoint is gone; retrying cannot help and keeping the
			// subscription active would fail every future send.
			w.disableSubscription(ctx, &sub)
			w.markFailed(ctx, &notification, fmt.Sprintf("subscription expired (status %d)", resp.StatusCode))
			metrics.PushDeliveries.WithLabelValues("expired").Inc()
			return nil
		}

		lastErr = sendErr
		if lastErr == nil {
			lastErr = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
		}

		notification.RetryCount = attempt
		if err := w.db.WithContext(ctx).Model(&notification).
			Update("retry_count", attempt).Error; err != nil {
			w.log.Warn("retry count update failed", zap.String("notification_id", notification.ID), zap.Error(err))
		}

		if attempt >= maxRetries {
			break
		}
		if err := w.sleep(ctx, backoffDelay(attempt)); err != nil {
			w.markFailed(ctx, &notification, lastErr.Error())
			metrics.PushDeliveries.WithLabelValues("failed").Inc()
			return nil
		}
	}

	w.markFailed(ctx, &notification, lastErr.Error())
	metrics.PushDeliveries.WithLabelValues("failed").Inc()
	return nil
}

func (w *DeliveryWorker) encode(n *models.PushNotification) ([]byte, error) {
	msg := pushMessage{Title: n.Title, Body: n.Body}
	if len(n.Payload) > 0 {
		if err := json.Unmarshal(n.Payload, &msg.Payload); err != nil {
			return nil, fmt.Errorf("delivery worker: decode payload: %w", err)
		}
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("delivery worker: encode message: %w", err)
	}
	return encoded, nil
}

func (w *DeliveryWorker) markSent(ctx context.Context, n *models.PushNotification, sub *models.PushSubscription) {
	now := time.Now()
	if err := w.db.WithContext(ctx).Model(n).Updates(map[string]any{
		"status":  models.PushStatusSent,
		"sent_at": now,
	}).Error; err != nil {
		w.log.Warn("mark sent failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
	if err := w.db.WithContext(ctx).Model(sub).
		Update("last_used_at", now).Error; err != nil {
		w.log.Warn("subscription touch failed", zap.String("subscription_id", sub.ID), zap.Error(err))
	}
}

func (w *DeliveryWorker) markFailed(ctx context.Context, n *models.PushNotification, reason string) {
	if err := w.db.WithContext(ctx).Model(n).Updates(map[string]any{
		"status":        models.PushStatusFailed,
		"error_message": reason,
	}).Error; err != nil {
		w.log.Warn("mark failed failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
}

func (w *DeliveryWorker) disableSubscription(ctx context.Context, sub *models.PushSubscription) {
	if err := w.db.WithContext(ctx).Model(sub).
		Update("is_active", false).Error; err != nil {
		w.log.Warn("subscription disable failed", zap.String("subscription_id", sub.ID), zap.Error(err))
	}
	w.log.Info("push subscription disabled",
		zap.String("subscription_id", sub.ID),
		zap.String("user_id", sub.UserID))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
