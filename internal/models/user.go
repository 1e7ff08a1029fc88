package models

// User represents a customer or staff member receiving notifications.
// Account management lives outside the notification engine; this model only
// carries the contact fields dispatch needs.
type User struct {
	BaseModel

	FirstName string `gorm:"type:varchar(100)" json:"first_name"`
	LastName  string `gorm:"type:varchar(100)" json:"last_name"`
	Email     string `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Phone     string `gorm:"type:varchar(32)" json:"phone"`
}
