package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randevly/randevly/internal/billing"
	"github.com/randevly/randevly/internal/database/testutil"
	"github.com/randevly/randevly/internal/models"
)

type scriptedProvider struct {
	outcomes map[string]billing.Outcome
}

func (p *scriptedProvider) Charge(_ context.Context, paymentMethodID string, _ float64, _ string) (billing.Outcome, error) {
	return p.outcomes[paymentMethodID], nil
}

func TestRenewalJobChargesDueAndAlertsFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mailer := &recordingMailer{}
	gateway := newAlertGateway(t, db, mailer, now)

	provider := &scriptedProvider{outcomes: map[string]billing.Outcome{
		"pm-good": {Succeeded: true, Reference: "ch-1"},
		"pm-bad":  {Succeeded: false, Reason: "card declined"},
	}}
	renewals, err := billing.NewRenewalService(db, provider, billing.WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)

	job, err := NewRenewalJob(renewals, gateway)
	require.NoError(t, err)

	plan := models.SubscriptionPlan{Name: "Pro", PriceMonthly: 499}
	require.NoError(t, db.Create(&plan).Error)

	for _, id := range []string{"biz-good", "biz-bad"} {
		require.NoError(t, db.Create(&models.Business{
			BaseModel:    models.BaseModel{ID: id},
			Name:         id,
			ContactEmail: id + "@example.com",
		}).Error)
	}

	good := models.BusinessSubscription{
		BusinessID:          "biz-good",
		PlanID:              plan.ID,
		Status:              models.SubscriptionStatusActive,
		AutoRenew:           true,
		CurrentPeriodEndsAt: now.Add(-time.Hour),
		PaymentMethodID:     "pm-good",
	}
	require.NoError(t, db.Create(&good).Error)

	bad := models.BusinessSubscription{
		BusinessID:          "biz-bad",
		PlanID:              plan.ID,
		Status:              models.SubscriptionStatusActive,
		AutoRenew:           true,
		CurrentPeriodEndsAt: now.Add(-time.Hour),
		PaymentMethodID:     "pm-bad",
	}
	require.NoError(t, db.Create(&bad).Error)

	require.NoError(t, job.Run(context.Background()))

	var renewed models.BusinessSubscription
	require.NoError(t, db.First(&renewed, "id = ?", good.ID).Error)
	require.Equal(t, models.SubscriptionStatusActive, renewed.Status)
	require.True(t, renewed.CurrentPeriodEndsAt.After(now))

	var declined models.BusinessSubscription
	require.NoError(t, db.First(&declined, "id = ?", bad.ID).Error)
	require.Equal(t, models.SubscriptionStatusPastDue, declined.Status)
	require.Equal(t, 1, declined.FailedPaymentCount)

	// The success is confirmed and the failure alerted, each to its owner.
	require.Len(t, mailer.messages, 2)
	bySubject := make(map[string][]string, len(mailer.messages))
	for _, msg := range mailer.messages {
		bySubject[msg.Subject] = msg.To
	}
	require.Equal(t, []string{"biz-good@example.com"}, bySubject["Subscription renewed"])
	require.Equal(t, []string{"biz-bad@example.com"}, bySubject["Subscription payment failed"])
}

func TestRenewalJobAlertsMissingPaymentMethod(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mailer := &recordingMailer{}
	gateway := newAlertGateway(t, db, mailer, now)

	renewals, err := billing.NewRenewalService(db, &scriptedProvider{}, billing.WithRenewalNow(func() time.Time { return now }))
	require.NoError(t, err)
	job, err := NewRenewalJob(renewals, gateway)
	require.NoError(t, err)

	plan := models.SubscriptionPlan{Name: "Pro", PriceMonthly: 499}
	require.NoError(t, db.Create(&plan).Error)
	require.NoError(t, db.Create(&models.Business{
		BaseModel:    models.BaseModel{ID: "biz-1"},
		Name:         "biz-1",
		ContactEmail: "owner@example.com",
	}).Error)
	require.NoError(t, db.Create(&models.BusinessSubscription{
		BusinessID:          "biz-1",
		PlanID:              plan.ID,
		Status:              models.SubscriptionStatusActive,
		AutoRenew:           true,
		CurrentPeriodEndsAt: now.Add(-time.Hour),
	}).Error)

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, mailer.messages, 1)
	require.Contains(t, mailer.messages[0].Subject, "needs attention")
}
