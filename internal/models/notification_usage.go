package models

// NotificationUsage is an append-only ledger of notification sends per
// tenant. Rolling hourly/daily/weekly totals are derived by aggregation;
// rows are never updated.
type NotificationUsage struct {
	BaseModel

	BusinessID     string `gorm:"type:uuid;index;not null" json:"business_id"`
	RecipientCount int    `gorm:"not null" json:"recipient_count"`
	Type           string `gorm:"type:varchar(32);index" json:"type"`
}
