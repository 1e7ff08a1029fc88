package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/database/testutil"
	"github.com/randevly/randevly/internal/models"
)

type fakePaymentProvider struct {
	outcome Outcome
	err     error
	charges int
}

func (p *fakePaymentProvider) Charge(context.Context, string, float64, string) (Outcome, error) {
	p.charges++
	if p.err != nil {
		return Outcome{}, p.err
	}
	return p.outcome, nil
}

func seedSubscription(t *testing.T, db *gorm.DB, periodEnd time.Time) *models.BusinessSubscription {
	t.Helper()
	plan := models.SubscriptionPlan{Name: "Pro", PriceMonthly: 499, Currency: "TRY"}
	require.NoError(t, db.Create(&plan).Error)

	sub := models.BusinessSubscription{
		BusinessID:          "biz-1",
		PlanID:              plan.ID,
		Status:              models.SubscriptionStatusActive,
		AutoRenew:           true,
		CurrentPeriodEndsAt: periodEnd,
		PaymentMethodID:     "pm-1",
	}
	require.NoError(t, db.Create(&sub).Error)
	return &sub
}

func TestRenewalChargeSuccess(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd := now.Add(-2 * time.Hour)

	provider := &fakePaymentProvider{outcome: Outcome{Succeeded: true, Reference: "ch-1"}}
	svc, err := NewRenewalService(db, provider, WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)

	sub := seedSubscription(t, db, periodEnd)

	outcome, err := svc.RenewalCharge(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded)

	var got models.BusinessSubscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	require.Equal(t, models.SubscriptionStatusActive, got.Status)
	require.True(t, got.CurrentPeriodEndsAt.Equal(periodEnd.AddDate(0, 1, 0)))
	require.Zero(t, got.FailedPaymentCount)
	require.Nil(t, got.PastDueSince)

	var record models.PaymentRecord
	require.NoError(t, db.First(&record, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, models.PaymentStatusSucceeded, record.Status)
	require.Equal(t, 499.0, record.Amount)
}

func TestRenewalChargeFailureMarksPastDue(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	provider := &fakePaymentProvider{outcome: Outcome{Succeeded: false, Reason: "card declined"}}
	svc, err := NewRenewalService(db, provider, WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)

	sub := seedSubscription(t, db, now.Add(-time.Hour))

	outcome, err := svc.RenewalCharge(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, outcome.Succeeded)

	var got models.BusinessSubscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	require.Equal(t, models.SubscriptionStatusPastDue, got.Status)
	require.Equal(t, 1, got.FailedPaymentCount)
	require.NotNil(t, got.PastDueSince)
	require.True(t, got.AutoRenew)

	var record models.PaymentRecord
	require.NoError(t, db.First(&record, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, models.PaymentStatusFailed, record.Status)
	require.Equal(t, "card declined", record.ErrorMessage)
}

func TestRenewalChargeDisablesAutoRenewAtCap(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	provider := &fakePaymentProvider{outcome: Outcome{Succeeded: false, Reason: "card declined"}}
	svc, err := NewRenewalService(db, provider, WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)

	sub := seedSubscription(t, db, now.Add(-time.Hour))

	for i := 0; i < 3; i++ {
		var current models.BusinessSubscription
		require.NoError(t, db.First(&current, "id = ?", sub.ID).Error)
		_, err := svc.RenewalCharge(context.Background(), &current)
		require.NoError(t, err)
	}

	var got models.BusinessSubscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	require.Equal(t, 3, got.FailedPaymentCount)
	require.False(t, got.AutoRenew)
}

func TestRenewalChargeRequiresPaymentMethod(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := &fakePaymentProvider{outcome: Outcome{Succeeded: true}}
	svc, err := NewRenewalService(db, provider)
	require.NoError(t, err)

	_, err = svc.RenewalCharge(context.Background(), &models.BusinessSubscription{})
	require.ErrorIs(t, err, ErrNoPaymentMethod)
	require.Zero(t, provider.charges)
}

func TestRenewalChargeProviderErrorIsRecorded(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	provider := &fakePaymentProvider{err: errors.New("gateway timeout")}
	svc, err := NewRenewalService(db, provider, WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)

	sub := seedSubscription(t, db, now.Add(-time.Hour))

	outcome, err := svc.RenewalCharge(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, outcome.Succeeded)
	require.Equal(t, "gateway timeout", outcome.Reason)

	var record models.PaymentRecord
	require.NoError(t, db.First(&record, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, models.PaymentStatusFailed, record.Status)
}

func TestDueSubscriptions(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	provider := &fakePaymentProvider{outcome: Outcome{Succeeded: true}}
	svc, err := NewRenewalService(db, provider, WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)

	due := seedSubscription(t, db, now.Add(-time.Hour))

	notYet := models.BusinessSubscription{
		BusinessID:          "biz-2",
		PlanID:              due.PlanID,
		Status:              models.SubscriptionStatusActive,
		AutoRenew:           true,
		CurrentPeriodEndsAt: now.Add(48 * time.Hour),
		PaymentMethodID:     "pm-2",
	}
	require.NoError(t, db.Create(&notYet).Error)

	optedOut := models.BusinessSubscription{
		BusinessID:          "biz-3",
		PlanID:              due.PlanID,
		Status:              models.SubscriptionStatusActive,
		CurrentPeriodEndsAt: now.Add(-time.Hour),
		PaymentMethodID:     "pm-3",
	}
	require.NoError(t, db.Create(&optedOut).Error)
	require.NoError(t, db.Model(&optedOut).UpdateColumn("auto_renew", false).Error)

	// Ends inside the daily run's 24h horizon, so it is charged before the
	// period lapses.
	dueSoon := models.BusinessSubscription{
		BusinessID:          "biz-4",
		PlanID:              due.PlanID,
		Status:              models.SubscriptionStatusActive,
		AutoRenew:           true,
		CurrentPeriodEndsAt: now.Add(12 * time.Hour),
		PaymentMethodID:     "pm-4",
	}
	require.NoError(t, db.Create(&dueSoon).Error)

	got, err := svc.DueSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, due.ID, got[0].ID)
	require.Equal(t, dueSoon.ID, got[1].ID)
}
