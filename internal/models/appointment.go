package models

import "time"

// Appointment statuses relevant to reminder dispatch.
const (
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusCancelled = "cancelled"
)

// Appointment is a read-mostly input to the reminder job. ReminderSentAt is
// the only field this engine writes; it makes the reminder job idempotent
// across ticks.
type Appointment struct {
	BaseModel

	BusinessID  string    `gorm:"type:uuid;index;not null" json:"business_id"`
	CustomerID  string    `gorm:"type:uuid;index;not null" json:"customer_id"`
	ServiceName string    `gorm:"type:varchar(255)" json:"service_name"`
	StartsAt    time.Time `gorm:"index;not null" json:"starts_at"`
	Status      string    `gorm:"type:varchar(32);index;default:'confirmed'" json:"status"`

	ReminderSentAt *time.Time `json:"reminder_sent_at"`
}
