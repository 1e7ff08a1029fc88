package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/randevly/randevly/internal/database/testutil"
	"github.com/randevly/randevly/internal/models"
)

func TestCleanupJobPrunesAgedData(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	job, err := NewCleanupJob(db, CleanupConfig{})
	require.NoError(t, err)
	job.WithClock(func() time.Time { return now })

	old := now.Add(-120 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	// Terminal and old: removed. Pending or recent: kept.
	require.NoError(t, db.Create(&models.PushNotification{
		BaseModel:      models.BaseModel{CreatedAt: old, UpdatedAt: old},
		SubscriptionID: "sub-1",
		Title:          "t",
		Status:         models.PushStatusFailed,
	}).Error)
	require.NoError(t, db.Create(&models.PushNotification{
		BaseModel:      models.BaseModel{CreatedAt: recent, UpdatedAt: recent},
		SubscriptionID: "sub-1",
		Title:          "t",
		Status:         models.PushStatusPending,
	}).Error)
	require.NoError(t, db.Create(&models.PushNotification{
		BaseModel:      models.BaseModel{CreatedAt: recent, UpdatedAt: recent},
		SubscriptionID: "sub-1",
		Title:          "t",
		Status:         models.PushStatusRead,
	}).Error)

	require.NoError(t, db.Create(&models.NotificationUsage{
		BaseModel:      models.BaseModel{CreatedAt: now.Add(-40 * 24 * time.Hour), UpdatedAt: now},
		BusinessID:     "biz-1",
		RecipientCount: 5,
	}).Error)
	require.NoError(t, db.Create(&models.NotificationUsage{
		BaseModel:      models.BaseModel{CreatedAt: now.Add(-6 * 24 * time.Hour), UpdatedAt: now},
		BusinessID:     "biz-1",
		RecipientCount: 5,
	}).Error)

	disabled := models.PushSubscription{
		BaseModel: models.BaseModel{CreatedAt: old, UpdatedAt: old},
		UserID:    "user-1",
		Endpoint:  "https://push.example.com/stale",
		P256dh:    "key",
		Auth:      "auth",
	}
	require.NoError(t, db.Create(&disabled).Error)
	require.NoError(t, db.Model(&disabled).UpdateColumns(map[string]any{
		"is_active":  false,
		"updated_at": now.Add(-200 * 24 * time.Hour),
	}).Error)

	active := models.PushSubscription{
		BaseModel: models.BaseModel{CreatedAt: old, UpdatedAt: old},
		UserID:    "user-1",
		Endpoint:  "https://push.example.com/active",
		P256dh:    "key",
		Auth:      "auth",
		IsActive:  true,
	}
	require.NoError(t, db.Create(&active).Error)
	require.NoError(t, db.Model(&active).UpdateColumn("updated_at", now.Add(-200*24*time.Hour)).Error)

	failedPayment := models.PaymentRecord{
		BaseModel:      models.BaseModel{CreatedAt: old, UpdatedAt: old},
		SubscriptionID: "bs-1",
		BusinessID:     "biz-1",
		Amount:         199,
		Status:         models.PaymentStatusFailed,
		Metadata:       datatypes.JSON(`{"card_last4":"4242"}`),
	}
	require.NoError(t, db.Create(&failedPayment).Error)

	require.NoError(t, job.Run(context.Background()))

	var notifications []models.PushNotification
	require.NoError(t, db.Find(&notifications).Error)
	require.Len(t, notifications, 2)
	for _, n := range notifications {
		require.NotEqual(t, models.PushStatusFailed, n.Status)
	}

	var usage []models.NotificationUsage
	require.NoError(t, db.Find(&usage).Error)
	require.Len(t, usage, 1)

	var subs []models.PushSubscription
	require.NoError(t, db.Find(&subs).Error)
	require.Len(t, subs, 1)
	require.True(t, subs[0].IsActive)

	var payment models.PaymentRecord
	require.NoError(t, db.First(&payment, "id = ?", failedPayment.ID).Error)
	require.Empty(t, payment.Metadata)
}

func TestCleanupJobCancelsLongPastDueSubscriptions(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	job, err := NewCleanupJob(db, CleanupConfig{})
	require.NoError(t, err)
	job.WithClock(func() time.Time { return now })

	longPastDue := now.Add(-45 * 24 * time.Hour)
	recentPastDue := now.Add(-5 * 24 * time.Hour)

	doomed := models.BusinessSubscription{
		BusinessID:          "biz-doomed",
		Status:              models.SubscriptionStatusPastDue,
		CurrentPeriodEndsAt: longPastDue,
		PastDueSince:        &longPastDue,
	}
	require.NoError(t, db.Create(&doomed).Error)
	require.NoError(t, db.Model(&doomed).UpdateColumn("failed_payment_count", 3).Error)

	inGrace := models.BusinessSubscription{
		BusinessID:          "biz-grace",
		Status:              models.SubscriptionStatusPastDue,
		CurrentPeriodEndsAt: recentPastDue,
		PastDueSince:        &recentPastDue,
	}
	require.NoError(t, db.Create(&inGrace).Error)
	require.NoError(t, db.Model(&inGrace).UpdateColumn("failed_payment_count", 3).Error)

	fewFailures := models.BusinessSubscription{
		BusinessID:          "biz-few",
		Status:              models.SubscriptionStatusPastDue,
		CurrentPeriodEndsAt: longPastDue,
		PastDueSince:        &longPastDue,
	}
	require.NoError(t, db.Create(&fewFailures).Error)
	require.NoError(t, db.Model(&fewFailures).UpdateColumn("failed_payment_count", 1).Error)

	require.NoError(t, job.Run(context.Background()))

	// Fresh structs per lookup: First would reuse the primary key left in
	// a shared variable as an extra filter.
	var cancelled models.BusinessSubscription
	require.NoError(t, db.First(&cancelled, "business_id = ?", "biz-doomed").Error)
	require.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	require.False(t, cancelled.AutoRenew)

	var kept models.BusinessSubscription
	require.NoError(t, db.First(&kept, "business_id = ?", "biz-grace").Error)
	require.Equal(t, models.SubscriptionStatusPastDue, kept.Status)

	var fewKept models.BusinessSubscription
	require.NoError(t, db.First(&fewKept, "business_id = ?", "biz-few").Error)
	require.Equal(t, models.SubscriptionStatusPastDue, fewKept.Status)
}

func TestCleanupJobFailsStalePendingRecords(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	job, err := NewCleanupJob(db, CleanupConfig{})
	require.NoError(t, err)
	job.WithClock(func() time.Time { return now })

	stale := models.PushNotification{
		BaseModel:      models.BaseModel{CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)},
		SubscriptionID: "sub-1",
		Title:          "t",
		Status:         models.PushStatusPending,
	}
	require.NoError(t, db.Create(&stale).Error)

	fresh := models.PushNotification{
		BaseModel:      models.BaseModel{CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)},
		SubscriptionID: "sub-1",
		Title:          "t",
		Status:         models.PushStatusPending,
	}
	require.NoError(t, db.Create(&fresh).Error)

	require.NoError(t, job.Run(context.Background()))

	var expired models.PushNotification
	require.NoError(t, db.First(&expired, "id = ?", stale.ID).Error)
	require.Equal(t, models.PushStatusFailed, expired.Status)
	require.Equal(t, "expired before delivery", expired.ErrorMessage)

	var pending models.PushNotification
	require.NoError(t, db.First(&pending, "id = ?", fresh.ID).Error)
	require.Equal(t, models.PushStatusPending, pending.Status)
}

func TestCleanupJobRemovesExpiredCacheEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	job, err := NewCleanupJob(db, CleanupConfig{})
	require.NoError(t, err)
	job.WithClock(func() time.Time { return now })

	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "expired",
		Value:     []byte("1"),
		ExpiresAt: now.Add(-time.Minute),
	}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "live",
		Value:     []byte("1"),
		ExpiresAt: now.Add(time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:   "no-expiry",
		Value: []byte("1"),
	}).Error)

	require.NoError(t, job.Run(context.Background()))

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Order("key").Pluck("key", &keys).Error)
	require.Equal(t, []string{"live", "no-expiry"}, keys)
}

func TestCleanupConfigDefaults(t *testing.T) {
	cfg := CleanupConfig{}.withDefaults()
	require.Equal(t, 90*24*time.Hour, cfg.NotificationRetention)
	require.Equal(t, 30*24*time.Hour, cfg.UsageRetention)

	// A usage retention shorter than the weekly quota window is unusable
	// and falls back to the default.
	cfg = CleanupConfig{UsageRetention: 24 * time.Hour}.withDefaults()
	require.Equal(t, 30*24*time.Hour, cfg.UsageRetention)
}
