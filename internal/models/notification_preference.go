package models

import "gorm.io/datatypes"

// NotificationPreference captures a user's notification choices. A missing
// row means system defaults apply.
type NotificationPreference struct {
	BaseModel

	UserID string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`

	RemindersEnabled   bool `gorm:"default:true" json:"reminders_enabled"`
	BusinessEnabled    bool `gorm:"default:true" json:"business_enabled"`
	PromotionalEnabled bool `gorm:"default:false" json:"promotional_enabled"`

	// Channels is an ordered JSON list of preferred channels ("push", "sms", "email").
	Channels datatypes.JSON `json:"channels"`

	QuietHoursStart string `gorm:"type:varchar(5)" json:"quiet_hours_start"`
	QuietHoursEnd   string `gorm:"type:varchar(5)" json:"quiet_hours_end"`
	Timezone        string `gorm:"type:varchar(64)" json:"timezone"`

	// ReminderOffsetsHours is a JSON list of hours-before-start reminder offsets.
	ReminderOffsetsHours datatypes.JSON `json:"reminder_offsets_hours"`
}
