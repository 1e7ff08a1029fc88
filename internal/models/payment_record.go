package models

import "gorm.io/datatypes"

// Payment record statuses.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// PaymentRecord stores the outcome of one payment attempt. The weekly
// cleanup job scrubs Metadata on old failed records.
type PaymentRecord struct {
	BaseModel

	SubscriptionID string  `gorm:"type:uuid;index;not null" json:"subscription_id"`
	BusinessID     string  `gorm:"type:uuid;index;not null" json:"business_id"`
	Amount         float64 `gorm:"not null" json:"amount"`
	Currency       string  `gorm:"type:varchar(8);default:'TRY'" json:"currency"`
	Status         string  `gorm:"type:varchar(32);index" json:"status"`
	ErrorMessage   string  `gorm:"type:text" json:"error_message"`

	// Metadata may hold gateway references and masked card details.
	Metadata datatypes.JSON `json:"metadata"`
}
