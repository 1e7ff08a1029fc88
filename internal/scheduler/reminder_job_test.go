package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/database/testutil"
	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/internal/notify"
)

type reminderFixture struct {
	db  *gorm.DB
	job *ReminderJob
	now time.Time
}

func newReminderFixture(t *testing.T, now time.Time) *reminderFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	resolver, err := notify.NewChannelResolver(db)
	require.NoError(t, err)
	limiter, err := notify.NewRateLimiter(db, nil, notify.WithRateLimiterNow(func() time.Time { return now }))
	require.NoError(t, err)
	worker, err := notify.NewDeliveryWorker(db, nil, notify.WorkerConfig{QueueSize: 64, Workers: 1})
	require.NoError(t, err)
	gateway, err := notify.NewGateway(db, resolver, limiter, worker, nil, nil,
		notify.WithGatewayNow(func() time.Time { return now }))
	require.NoError(t, err)
	prefs, err := notify.NewPreferenceService(db)
	require.NoError(t, err)

	job, err := NewReminderJob(db, gateway, prefs)
	require.NoError(t, err)
	job.WithClock(func() time.Time { return now })

	return &reminderFixture{db: db, job: job, now: now}
}

func (f *reminderFixture) seedAppointment(t *testing.T, userID string, startsAt time.Time) models.Appointment {
	t.Helper()
	require.NoError(t, f.db.Create(&models.PushSubscription{
		UserID:   userID,
		Endpoint: "https://push.example.com/" + userID,
		P256dh:   "key",
		Auth:     "auth",
		IsActive: true,
	}).Error)

	appt := models.Appointment{
		BusinessID:  "biz-1",
		CustomerID:  userID,
		ServiceName: "Haircut",
		StartsAt:    startsAt,
		Status:      models.AppointmentStatusConfirmed,
	}
	require.NoError(t, f.db.Create(&appt).Error)
	return appt
}

func TestReminderJobSendsAtDefaultOffset(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, now)
	// Exactly 24 hours out, the first default offset.
	appt := f.seedAppointment(t, "user-1", now.Add(24*time.Hour))

	require.NoError(t, f.job.Run(context.Background()))

	var got models.Appointment
	require.NoError(t, f.db.First(&got, "id = ?", appt.ID).Error)
	require.NotNil(t, got.ReminderSentAt)

	var count int64
	require.NoError(t, f.db.Model(&models.PushNotification{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestReminderJobIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, now)
	f.seedAppointment(t, "user-1", now.Add(24*time.Hour))

	require.NoError(t, f.job.Run(context.Background()))
	require.NoError(t, f.job.Run(context.Background()))

	var count int64
	require.NoError(t, f.db.Model(&models.PushNotification{}).Count(&count).Error)
	require.EqualValues(t, 1, count, "a reminded appointment must not be reminded again")
}

func TestReminderJobSkipsOutsideTolerance(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, now)
	// 25.5 hours out: more than 30 minutes from the 24 hour offset.
	appt := f.seedAppointment(t, "user-1", now.Add(25*time.Hour+30*time.Minute))

	require.NoError(t, f.job.Run(context.Background()))

	var got models.Appointment
	require.NoError(t, f.db.First(&got, "id = ?", appt.ID).Error)
	require.Nil(t, got.ReminderSentAt)
}

func TestReminderJobHonoursCustomOffsets(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, now)
	require.NoError(t, f.db.Create(&models.NotificationPreference{
		UserID:               "user-1",
		ReminderOffsetsHours: datatypes.JSON(`[48]`),
	}).Error)
	appt := f.seedAppointment(t, "user-1", now.Add(48*time.Hour))

	require.NoError(t, f.job.Run(context.Background()))

	var got models.Appointment
	require.NoError(t, f.db.First(&got, "id = ?", appt.ID).Error)
	require.NotNil(t, got.ReminderSentAt)
}

func TestReminderJobRespectsOptOut(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, now)

	pref := models.NotificationPreference{UserID: "user-1"}
	require.NoError(t, f.db.Create(&pref).Error)
	require.NoError(t, f.db.Model(&pref).Update("reminders_enabled", false).Error)

	appt := f.seedAppointment(t, "user-1", now.Add(24*time.Hour))

	require.NoError(t, f.job.Run(context.Background()))

	var got models.Appointment
	require.NoError(t, f.db.First(&got, "id = ?", appt.ID).Error)
	require.Nil(t, got.ReminderSentAt)
}

func TestReminderJobSkipsCancelled(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, now)
	appt := f.seedAppointment(t, "user-1", now.Add(24*time.Hour))
	require.NoError(t, f.db.Model(&appt).Update("status", models.AppointmentStatusCancelled).Error)

	require.NoError(t, f.job.Run(context.Background()))

	var count int64
	require.NoError(t, f.db.Model(&models.PushNotification{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestReminderJobRetriesAfterQuietHours(t *testing.T) {
	// 23:00 in Istanbul, inside the tenant's overnight window.
	night := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	f := newReminderFixture(t, night)
	require.NoError(t, f.db.Create(&models.BusinessNotificationSettings{
		BusinessID:      "biz-1",
		PushEnabled:     true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
		Timezone:        "Europe/Istanbul",
	}).Error)
	appt := f.seedAppointment(t, "user-1", night.Add(24*time.Hour))

	require.NoError(t, f.job.Run(context.Background()))

	var got models.Appointment
	require.NoError(t, f.db.First(&got, "id = ?", appt.ID).Error)
	require.Nil(t, got.ReminderSentAt, "suppressed reminders stay eligible for the next tick")
}
