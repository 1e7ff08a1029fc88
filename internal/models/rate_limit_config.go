package models

// RateLimitConfig stores per-tenant limiter thresholds. The row with an
// empty BusinessID carries the deployment-wide defaults.
type RateLimitConfig struct {
	BaseModel

	BusinessID string `gorm:"type:uuid;uniqueIndex" json:"business_id"`

	MaxRecipientsPerSend int `gorm:"default:50" json:"max_recipients_per_send"`
	BurstLimit           int `gorm:"default:10" json:"burst_limit"`
	BurstWindowMinutes   int `gorm:"default:5" json:"burst_window_minutes"`
	MaxPerHour           int `gorm:"default:100" json:"max_per_hour"`
	MaxPerDay            int `gorm:"default:500" json:"max_per_day"`
	MaxPerWeek           int `gorm:"default:2000" json:"max_per_week"`
	CooldownSeconds      int `gorm:"default:30" json:"cooldown_seconds"`
	MaxSMSPerDay         int `gorm:"default:100" json:"max_sms_per_day"`
}
