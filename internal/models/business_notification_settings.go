package models

// BusinessNotificationSettings holds a tenant's channel toggles and quiet
// hours. A missing row means system defaults apply (push only, no quiet hours).
type BusinessNotificationSettings struct {
	BaseModel

	BusinessID string `gorm:"type:uuid;uniqueIndex;not null" json:"business_id"`

	PushEnabled  bool `gorm:"default:true" json:"push_enabled"`
	SMSEnabled   bool `gorm:"default:false" json:"sms_enabled"`
	EmailEnabled bool `gorm:"default:true" json:"email_enabled"`

	QuietHoursStart string `gorm:"type:varchar(5)" json:"quiet_hours_start"`
	QuietHoursEnd   string `gorm:"type:varchar(5)" json:"quiet_hours_end"`
	Timezone        string `gorm:"type:varchar(64)" json:"timezone"`
}
