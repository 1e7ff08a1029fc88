package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/pkg/logger"
)

// CleanupConfig holds the retention windows applied by the weekly sweep.
// Zero values fall back to the defaults.
type CleanupConfig struct {
	NotificationRetention time.Duration
	UsageRetention        time.Duration
	SubscriptionRetention time.Duration
	PaymentScrubAge       time.Duration
	PastDueCancelAge      time.Duration
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.NotificationRetention <= 0 {
		c.NotificationRetention = 90 * 24 * time.Hour
	}
	// Usage rows feed the weekly rate limit window and must outlive it.
	if c.UsageRetention <= 7*24*time.Hour {
		c.UsageRetention = 30 * 24 * time.Hour
	}
	if c.SubscriptionRetention <= 0 {
		c.SubscriptionRetention = 180 * 24 * time.Hour
	}
	if c.PaymentScrubAge <= 0 {
		c.PaymentScrubAge = 90 * 24 * time.Hour
	}
	if c.PastDueCancelAge <= 0 {
		c.PastDueCancelAge = 30 * 24 * time.Hour
	}
	return c
}

// pendingExpiry is how long a push record may stay pending before the
// sweep marks it failed. Anything older was dropped by a saturated queue
// or lost to a crash and will never be delivered.
const pendingExpiry = 24 * time.Hour

// CleanupJob prunes aged operational data: terminal push notifications,
// usage ledger rows outside every rate limit window, long-inactive push
// subscriptions, expired cache entries, and gateway metadata on old failed
// payments. It fails push records stuck in pending, and cancels
// subscriptions that stayed past due beyond the grace period with repeated
// payment failures.
type CleanupJob struct {
	db  *gorm.DB
	cfg CleanupConfig
	now func() time.Time
	log *zap.Logger
}

// NewCleanupJob constructs a CleanupJob.
func NewCleanupJob(db *gorm.DB, cfg CleanupConfig) (*CleanupJob, error) {
	if db == nil {
		return nil, errors.New("cleanup job: db is required")
	}
	return &CleanupJob{
		db:  db,
		cfg: cfg.withDefaults(),
		now: time.Now,
		log: logger.WithModule("scheduler.cleanup"),
	}, nil
}

// WithClock overrides the clock, primarily for tests.
func (j *CleanupJob) WithClock(now func() time.Time) *CleanupJob {
	if now != nil {
		j.now = now
	}
	return j
}

func (j *CleanupJob) Name() string { return "data-cleanup" }

func (j *CleanupJob) Run(ctx context.Context) error {
	now := j.now()
	var errs error

	result := j.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{models.PushStatusFailed, models.PushStatusDelivered, models.PushStatusRead},
			now.Add(-j.cfg.NotificationRetention)).
		Delete(&models.PushNotification{})
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: notifications: %w", result.Error))
	} else if result.RowsAffected > 0 {
		j.log.Info("old notifications removed", zap.Int64("count", result.RowsAffected))
	}

	// Pending records this old were dropped on enqueue or orphaned by a
	// restart; close them out so they stop counting as in flight.
	result = j.db.WithContext(ctx).
		Model(&models.PushNotification{}).
		Where("status = ? AND created_at < ?", models.PushStatusPending, now.Add(-pendingExpiry)).
		Updates(map[string]any{"status": models.PushStatusFailed, "error_message": "expired before delivery"})
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: stale pending notifications: %w", result.Error))
	} else if result.RowsAffected > 0 {
		j.log.Info("stale pending notifications failed", zap.Int64("count", result.RowsAffected))
	}

	result = j.db.WithContext(ctx).
		Where("created_at < ?", now.Add(-j.cfg.UsageRetention)).
		Delete(&models.NotificationUsage{})
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: usage ledger: %w", result.Error))
	} else if result.RowsAffected > 0 {
		j.log.Info("old usage rows removed", zap.Int64("count", result.RowsAffected))
	}

	// Only subscriptions already soft-disabled are eligible for removal;
	// active ones are never aged out.
	result = j.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", false, now.Add(-j.cfg.SubscriptionRetention)).
		Delete(&models.PushSubscription{})
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: subscriptions: %w", result.Error))
	} else if result.RowsAffected > 0 {
		j.log.Info("stale subscriptions removed", zap.Int64("count", result.RowsAffected))
	}

	// A zero expires_at marks a non-expiring entry.
	result = j.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: cache entries: %w", result.Error))
	}

	// Tenants that stayed past due for the whole grace period despite
	// repeated charge attempts are cancelled outright.
	result = j.db.WithContext(ctx).
		Model(&models.BusinessSubscription{}).
		Where("status = ? AND past_due_since IS NOT NULL AND past_due_since < ? AND failed_payment_count >= ?",
			models.SubscriptionStatusPastDue, now.Add(-j.cfg.PastDueCancelAge), 3).
		Updates(map[string]any{"status": models.SubscriptionStatusCancelled, "auto_renew": false})
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: past due subscriptions: %w", result.Error))
	} else if result.RowsAffected > 0 {
		j.log.Info("past due subscriptions cancelled", zap.Int64("count", result.RowsAffected))
	}

	result = j.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("status = ? AND created_at < ? AND metadata IS NOT NULL",
			models.PaymentStatusFailed, now.Add(-j.cfg.PaymentScrubAge)).
		Update("metadata", nil)
	if result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup: payment metadata: %w", result.Error))
	} else if result.RowsAffected > 0 {
		j.log.Info("payment metadata scrubbed", zap.Int64("count", result.RowsAffected))
	}

	return errs
}
