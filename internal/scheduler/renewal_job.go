package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/randevly/randevly/internal/billing"
	"github.com/randevly/randevly/internal/notify"
	"github.com/randevly/randevly/pkg/logger"
)

// RenewalJob charges due subscriptions. It is only registered when a
// payment provider is configured.
type RenewalJob struct {
	renewals *billing.RenewalService
	gateway  *notify.Gateway
	log      *zap.Logger
}

// NewRenewalJob constructs a RenewalJob.
func NewRenewalJob(renewals *billing.RenewalService, gateway *notify.Gateway) (*RenewalJob, error) {
	if renewals == nil || gateway == nil {
		return nil, errors.New("renewal job: renewal service and gateway are required")
	}
	return &RenewalJob{
		renewals: renewals,
		gateway:  gateway,
		log:      logger.WithModule("scheduler.renewals"),
	}, nil
}

func (j *RenewalJob) Name() string { return "subscription-renewals" }

// Run charges every due subscription, confirms successful renewals, and
// alerts owners about failures. The alert is best effort; a notification
// problem never rolls back a billing outcome.
func (j *RenewalJob) Run(ctx context.Context) error {
	due, err := j.renewals.DueSubscriptions(ctx)
	if err != nil {
		return err
	}

	var errs error
	for i := range due {
		sub := &due[i]

		outcome, chargeErr := j.renewals.RenewalCharge(ctx, sub)
		if chargeErr != nil {
			if errors.Is(chargeErr, billing.ErrNoPaymentMethod) {
				j.alert(ctx, sub.BusinessID, "Subscription renewal needs attention",
					"Your subscription could not be renewed because no payment method is on file.")
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, chargeErr))
			continue
		}

		if outcome.Succeeded {
			j.alert(ctx, sub.BusinessID, "Subscription renewed",
				"Your subscription was renewed and the next billing period is active.")
		} else {
			j.alert(ctx, sub.BusinessID, "Subscription payment failed",
				"We could not charge your payment method. Please update it to keep your subscription active.")
		}
	}
	return errs
}

func (j *RenewalJob) alert(ctx context.Context, businessID, title, body string) {
	if _, err := j.gateway.SendSystemAlert(ctx, businessID, title, body); err != nil {
		j.log.Warn("renewal alert failed", zap.String("business_id", businessID), zap.Error(err))
	}
}
