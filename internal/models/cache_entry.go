package models

import "time"

// CacheEntry backs the database cache store used when Redis is unavailable.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)" json:"key"`
	Value     []byte    `gorm:"type:blob" json:"value"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
