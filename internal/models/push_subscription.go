package models

import "time"

// PushSubscription stores a browser push endpoint registered by a user.
// Invalid endpoints are soft-disabled via IsActive, never deleted, so the
// delivery history attached to them stays intact.
type PushSubscription struct {
	BaseModel

	UserID   string `gorm:"type:uuid;index;uniqueIndex:idx_push_sub_user_endpoint;not null" json:"user_id"`
	Endpoint string `gorm:"type:text;uniqueIndex:idx_push_sub_user_endpoint,length:255;not null" json:"endpoint"`
	P256dh   string `gorm:"type:text;not null" json:"p256dh"`
	Auth     string `gorm:"type:text;not null" json:"auth"`

	UserAgent  string `gorm:"type:varchar(255)" json:"user_agent"`
	DeviceName string `gorm:"type:varchar(128)" json:"device_name"`

	IsActive   bool       `gorm:"default:true;index" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at"`
}
