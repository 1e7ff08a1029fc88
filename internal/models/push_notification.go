package models

import (
	"time"

	"gorm.io/datatypes"
)

// Push delivery record statuses. The record is terminal once failed, or once
// it reaches delivered/read; only the delivery worker mutates it.
const (
	PushStatusPending   = "pending"
	PushStatusSent      = "sent"
	PushStatusDelivered = "delivered"
	PushStatusRead      = "read"
	PushStatusFailed    = "failed"
)

// PushNotification tracks the lifecycle of one push delivery attempt.
type PushNotification struct {
	BaseModel

	SubscriptionID string `gorm:"type:uuid;index;not null" json:"subscription_id"`
	AppointmentID  string `gorm:"type:uuid;index" json:"appointment_id,omitempty"`
	BusinessID     string `gorm:"type:uuid;index" json:"business_id,omitempty"`

	Title   string         `gorm:"type:varchar(255);not null" json:"title"`
	Body    string         `gorm:"type:text" json:"body"`
	Payload datatypes.JSON `json:"payload"`

	Status string `gorm:"type:varchar(16);default:'pending';index" json:"status"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`

	ErrorMessage string `gorm:"type:text" json:"error_message"`
	RetryCount   int    `gorm:"default:0" json:"retry_count"`
	MaxRetries   int    `gorm:"default:3" json:"max_retries"`
}

// IsTerminal reports whether the record accepts further status transitions.
func (n *PushNotification) IsTerminal() bool {
	switch n.Status {
	case PushStatusFailed, PushStatusDelivered, PushStatusRead:
		return true
	default:
		return false
	}
}
