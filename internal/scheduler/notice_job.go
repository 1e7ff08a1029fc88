package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/internal/notify"
	"github.com/randevly/randevly/pkg/logger"
)

// expiryNoticeWindow is how far ahead of a non-renewing period end the
// expiry notice fires.
const expiryNoticeWindow = 3 * 24 * time.Hour

// pastDueGrace is how long a subscription may sit past due before the
// escalation notice fires.
const pastDueGrace = 7 * 24 * time.Hour

// NoticeJob sends billing lifecycle notices to tenant owners: upcoming
// expiry for subscriptions that will not auto-renew, and escalation for
// subscriptions stuck past due. It runs daily, so each notice repeats at
// most once per day while the condition holds.
type NoticeJob struct {
	db      *gorm.DB
	gateway *notify.Gateway
	now     func() time.Time
	log     *zap.Logger
}

// NewNoticeJob constructs a NoticeJob.
func NewNoticeJob(db *gorm.DB, gateway *notify.Gateway) (*NoticeJob, error) {
	if db == nil || gateway == nil {
		return nil, errors.New("notice job: db and gateway are required")
	}
	return &NoticeJob{
		db:      db,
		gateway: gateway,
		now:     time.Now,
		log:     logger.WithModule("scheduler.notices"),
	}, nil
}

// WithClock overrides the clock, primarily for tests.
func (j *NoticeJob) WithClock(now func() time.Time) *NoticeJob {
	if now != nil {
		j.now = now
	}
	return j
}

func (j *NoticeJob) Name() string { return "billing-notices" }

func (j *NoticeJob) Run(ctx context.Context) error {
	now := j.now()

	var expiring []models.BusinessSubscription
	err := j.db.WithContext(ctx).
		Where("status = ? AND auto_renew = ? AND current_period_ends_at > ? AND current_period_ends_at <= ?",
			models.SubscriptionStatusActive, false, now, now.Add(expiryNoticeWindow)).
		Find(&expiring).Error
	if err != nil {
		return fmt.Errorf("notice job: load expiring subscriptions: %w", err)
	}
	for _, sub := range expiring {
		days := int(time.Until(sub.CurrentPeriodEndsAt).Hours()/24) + 1
		j.alert(ctx, sub.BusinessID, "Subscription expiring soon",
			fmt.Sprintf("Your subscription ends in %d day(s) and will not renew automatically.", days))
	}

	var pastDue []models.BusinessSubscription
	err = j.db.WithContext(ctx).
		Where("status = ? AND past_due_since IS NOT NULL AND past_due_since <= ?",
			models.SubscriptionStatusPastDue, now.Add(-pastDueGrace)).
		Find(&pastDue).Error
	if err != nil {
		return fmt.Errorf("notice job: load past due subscriptions: %w", err)
	}
	for _, sub := range pastDue {
		j.alert(ctx, sub.BusinessID, "Subscription payment overdue",
			"Your subscription has been past due for over a week. Update your payment method to avoid cancellation.")
	}

	if len(expiring)+len(pastDue) > 0 {
		j.log.Info("billing notices dispatched",
			zap.Int("expiring", len(expiring)),
			zap.Int("past_due", len(pastDue)))
	}
	return nil
}

func (j *NoticeJob) alert(ctx context.Context, businessID, title, body string) {
	if _, err := j.gateway.SendSystemAlert(ctx, businessID, title, body); err != nil {
		j.log.Warn("billing notice failed", zap.String("business_id", businessID), zap.Error(err))
	}
}
