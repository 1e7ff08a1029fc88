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
	"github.com/randevly/randevly/internal/notify"
	"github.com/randevly/randevly/pkg/logger"
)

// reminderTolerance is how far either side of the exact offset instant a
// reminder may still fire. It must exceed the tick interval or reminders
// whose instant falls between two ticks are lost.
const reminderTolerance = 30 * time.Minute

// maxReminderHorizon bounds the appointment lookahead to the largest
// allowed preference offset.
const maxReminderHorizon = 168*time.Hour + reminderTolerance

// ReminderJob sends appointment reminders at each recipient's configured
// offsets. ReminderSentAt makes it idempotent: an appointment is reminded
// at most once, at the earliest matching offset.
type ReminderJob struct {
	db      *gorm.DB
	gateway *notify.Gateway
	prefs   *notify.PreferenceService
	now     func() time.Time
	log     *zap.Logger
}

// NewReminderJob constructs a ReminderJob.
func NewReminderJob(db *gorm.DB, gateway *notify.Gateway, prefs *notify.PreferenceService) (*ReminderJob, error) {
	if db == nil || gateway == nil || prefs == nil {
		return nil, errors.New("reminder job: db, gateway and preference service are required")
	}
	return &ReminderJob{
		db:      db,
		gateway: gateway,
		prefs:   prefs,
		now:     time.Now,
		log:     logger.WithModule("scheduler.reminders"),
	}, nil
}

// WithClock overrides the clock, primarily for tests.
func (j *ReminderJob) WithClock(now func() time.Time) *ReminderJob {
	if now != nil {
		j.now = now
	}
	return j
}

func (j *ReminderJob) Name() string { return "appointment-reminders" }

// Run scans upcoming confirmed appointments and dispatches due reminders.
// Per-appointment failures are collected so one broken recipient never
// stalls the rest of the sweep.
func (j *ReminderJob) Run(ctx context.Context) error {
	now := j.now()

	var appointments []models.Appointment
	err := j.db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND starts_at > ? AND starts_at <= ?",
			models.AppointmentStatusConfirmed, now, now.Add(maxReminderHorizon)).
		Order("starts_at ASC").
		Find(&appointments).Error
	if err != nil {
		return fmt.Errorf("reminder job: load appointments: %w", err)
	}

	var errs error
	sent := 0
	for _, appt := range appointments {
		due, err := j.process(ctx, appt, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("appointment %s: %w", appt.ID, err))
			continue
		}
		if due {
			sent++
		}
	}

	if sent > 0 {
		j.log.Info("reminders dispatched", zap.Int("count", sent))
	}
	return errs
}

func (j *ReminderJob) process(ctx context.Context, appt models.Appointment, now time.Time) (bool, error) {
	prefs, err := j.prefs.Get(ctx, appt.CustomerID)
	if err != nil {
		return false, err
	}
	if !prefs.RemindersEnabled {
		return false, nil
	}

	offset, due := dueOffset(appt.StartsAt, prefs.ReminderOffsetsHours, now)
	if !due {
		return false, nil
	}

	result, err := j.gateway.Send(ctx, notify.KindTransactional, notify.DispatchRequest{
		BusinessID: appt.BusinessID,
		UserID:     appt.CustomerID,
		Title:      "Upcoming appointment",
		Body:       reminderBody(appt, offset),
		Payload: notify.Payload{
			Type:          "appointment_reminder",
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			URL:           "/appointments/" + appt.ID,
		},
	})
	if err != nil {
		return false, err
	}
	if !result.Success {
		// Suppressed by quiet hours, rate limiting, or channel policy. Leaving
		// ReminderSentAt unset lets a later tick retry once the window
		// passes, as long as the appointment has not started.
		return false, nil
	}

	if err := j.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND reminder_sent_at IS NULL", appt.ID).
		Update("reminder_sent_at", now).Error; err != nil {
		return false, fmt.Errorf("mark reminded: %w", err)
	}
	return true, nil
}

// dueOffset returns the first offset (largest first) whose reminder
// instant falls within tolerance of now.
func dueOffset(startsAt time.Time, offsets []int, now time.Time) (int, bool) {
	for _, hours := range offsets {
		target := startsAt.Add(-time.Duration(hours) * time.Hour)
		delta := now.Sub(target)
		if delta >= -reminderTolerance && delta <= reminderTolerance {
			return hours, true
		}
	}
	return 0, false
}

func reminderBody(appt models.Appointment, offsetHours int) string {
	when := appt.StartsAt.Format("Mon 2 Jan 15:04")
	if appt.ServiceName != "" {
		return fmt.Sprintf("Your %s appointment is on %s (in about %d hours).", appt.ServiceName, when, offsetHours)
	}
	return fmt.Sprintf("Your appointment is on %s (in about %d hours).", when, offsetHours)
}
