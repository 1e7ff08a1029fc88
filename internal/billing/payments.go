package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/pkg/logger"
)

// ErrNoPaymentMethod is returned when a subscription has no stored payment
// method to charge.
var ErrNoPaymentMethod = errors.New("billing: subscription has no payment method")

// maxFailedPayments is the consecutive-failure count after which auto-renew
// is switched off and the tenant must update their payment method.
const maxFailedPayments = 3

// Outcome reports one charge attempt.
type Outcome struct {
	Succeeded bool
	Reference string
	Reason    string
}

// PaymentProvider charges a stored payment method. Implementations wrap a
// payment gateway; the renewal job stays unregistered when none is
// configured.
type PaymentProvider interface {
	Charge(ctx context.Context, paymentMethodID string, amount float64, currency string) (Outcome, error)
}

// RenewalService charges due subscriptions and keeps their billing state
// consistent.
type RenewalService struct {
	db       *gorm.DB
	provider PaymentProvider
	now      func() time.Time
	log      *zap.Logger
}

// RenewalOption customises the service.
type RenewalOption func(*RenewalService)

// WithRenewalNow overrides the clock, primarily for tests.
func WithRenewalNow(now func() time.Time) RenewalOption {
	return func(s *RenewalService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRenewalService constructs a RenewalService.
func NewRenewalService(db *gorm.DB, provider PaymentProvider, opts ...RenewalOption) (*RenewalService, error) {
	if db == nil {
		return nil, errors.New("renewal service: db is required")
	}
	if provider == nil {
		return nil, errors.New("renewal service: payment provider is required")
	}

	s := &RenewalService{
		db:       db,
		provider: provider,
		now:      time.Now,
		log:      logger.WithModule("billing.renewal"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DueSubscriptions returns active auto-renewing subscriptions whose period
// has ended or ends within the next 24 hours, so the daily run charges
// them before their coverage lapses.
func (s *RenewalService) DueSubscriptions(ctx context.Context) ([]models.BusinessSubscription, error) {
	var subs []models.BusinessSubscription
	err := s.db.WithContext(ctx).
		Where("status IN ? AND auto_renew = ? AND current_period_ends_at <= ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue},
			true, s.now().Add(24*time.Hour)).
		Order("current_period_ends_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("renewal service: load due subscriptions: %w", err)
	}
	return subs, nil
}

// RenewalCharge attempts one renewal. Success extends the period by one
// month and clears failure state; failure marks the subscription past due,
// counts the failure, and disables auto-renew at the failure cap. Every
// attempt leaves a payment record.
func (s *RenewalService) RenewalCharge(ctx context.Context, sub *models.BusinessSubscription) (Outcome, error) {
	if sub == nil {
		return Outcome{}, errors.New("renewal service: subscription is required")
	}
	if strings.TrimSpace(sub.PaymentMethodID) == "" {
		return Outcome{}, ErrNoPaymentMethod
	}

	var plan models.SubscriptionPlan
	if err := s.db.WithContext(ctx).First(&plan, "id = ?", sub.PlanID).Error; err != nil {
		return Outcome{}, fmt.Errorf("renewal service: load plan: %w", err)
	}

	outcome, chargeErr := s.provider.Charge(ctx, sub.PaymentMethodID, plan.PriceMonthly, plan.Currency)
	if chargeErr != nil {
		outcome = Outcome{Succeeded: false, Reason: chargeErr.Error()}
	}

	record := models.PaymentRecord{
		SubscriptionID: sub.ID,
		BusinessID:     sub.BusinessID,
		Amount:         plan.PriceMonthly,
		Currency:       plan.Currency,
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if outcome.Succeeded {
			record.Status = models.PaymentStatusSucceeded
			updates := map[string]any{
				"status":                 models.SubscriptionStatusActive,
				"current_period_ends_at": nextPeriodEnd(sub.CurrentPeriodEndsAt, now),
				"past_due_since":         nil,
				"failed_payment_count":   0,
			}
			if err := tx.Model(sub).Updates(updates).Error; err != nil {
				return err
			}
		} else {
			record.Status = models.PaymentStatusFailed
			record.ErrorMessage = outcome.Reason

			failures := sub.FailedPaymentCount + 1
			updates := map[string]any{
				"status":               models.SubscriptionStatusPastDue,
				"failed_payment_count": failures,
			}
			if sub.PastDueSince == nil {
				updates["past_due_since"] = now
			}
			if failures >= maxFailedPayments {
				updates["auto_renew"] = false
			}
			if err := tx.Model(sub).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("renewal service: persist renewal outcome: %w", err)
	}

	if outcome.Succeeded {
		s.log.Info("subscription renewed",
			zap.String("business_id", sub.BusinessID),
			zap.String("subscription_id", sub.ID))
	} else {
		s.log.Warn("renewal charge failed",
			zap.String("business_id", sub.BusinessID),
			zap.String("subscription_id", sub.ID),
			zap.Int("failed_payment_count", sub.FailedPaymentCount+1),
			zap.String("reason", outcome.Reason))
	}
	return outcome, nil
}

// nextPeriodEnd extends the period by one calendar month, anchored on the
// scheduled end when it is in the recent past and on now when the
// subscription lapsed long ago.
func nextPeriodEnd(current, now time.Time) time.Time {
	anchor := current
	if now.Sub(current) > 30*24*time.Hour {
		anchor = now
	}
	return anchor.AddDate(0, 1, 0)
}
