package database

import (
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Business{},
		&models.Appointment{},
		&models.SubscriptionPlan{},
		&models.BusinessSubscription{},
		&models.PaymentRecord{},
		&models.PushSubscription{},
		&models.NotificationPreference{},
		&models.BusinessNotificationSettings{},
		&models.PushNotification{},
		&models.NotificationUsage{},
		&models.RateLimitConfig{},
		&models.CacheEntry{},
	)
}

// SeedData inserts the deployment-wide rate limit defaults. The row with an
// empty business id is the fallback consulted when a tenant has no override.
func SeedData(db *gorm.DB) error {
	defaults := models.RateLimitConfig{
		BaseModel:            models.BaseModel{ID: "rate-limit-defaults"},
		MaxRecipientsPerSend: 50,
		BurstLimit:           10,
		BurstWindowMinutes:   5,
		MaxPerHour:           100,
		MaxPerDay:            500,
		MaxPerWeek:           2000,
		CooldownSeconds:      30,
		MaxSMSPerDay:         100,
	}

	return db.Where(models.RateLimitConfig{BaseModel: models.BaseModel{ID: defaults.ID}}).
		Attrs(defaults).
		FirstOrCreate(&models.RateLimitConfig{}).Error
}
