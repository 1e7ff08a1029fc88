package models

// Business is a tenant account. Owned settings and counters hang off the
// BusinessID; the rest of business CRUD lives outside this engine.
type Business struct {
	BaseModel

	Name         string `gorm:"type:varchar(255);not null" json:"name"`
	OwnerID      string `gorm:"type:uuid;index" json:"owner_id"`
	ContactEmail string `gorm:"type:varchar(255)" json:"contact_email"`
	Timezone     string `gorm:"type:varchar(64);default:'Europe/Istanbul'" json:"timezone"`
}
