package models

import "time"

// Business subscription statuses used by the renewal and cleanup jobs.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
)

// SubscriptionPlan describes a billing plan. Read-only input to renewal.
type SubscriptionPlan struct {
	BaseModel

	Name         string  `gorm:"type:varchar(128);not null" json:"name"`
	PriceMonthly float64 `gorm:"not null" json:"price_monthly"`
	Currency     string  `gorm:"type:varchar(8);default:'TRY'" json:"currency"`
}

// BusinessSubscription tracks a tenant's billing state. The renewal job
// advances CurrentPeriodEndsAt and maintains FailedPaymentCount; auto-renew
// is disabled after three consecutive failures.
type BusinessSubscription struct {
	BaseModel

	BusinessID string `gorm:"type:uuid;uniqueIndex;not null" json:"business_id"`
	PlanID     string `gorm:"type:uuid;index;not null" json:"plan_id"`

	Status              string     `gorm:"type:varchar(32);index;default:'active'" json:"status"`
	AutoRenew           bool       `gorm:"default:true" json:"auto_renew"`
	CurrentPeriodEndsAt time.Time  `gorm:"index;not null" json:"current_period_ends_at"`
	PastDueSince        *time.Time `json:"past_due_since"`

	PaymentMethodID    string `gorm:"type:varchar(128)" json:"payment_method_id"`
	FailedPaymentCount int    `gorm:"default:0" json:"failed_payment_count"`
}
