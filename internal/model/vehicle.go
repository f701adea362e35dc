package model

import "time"

// Vehicle represents one configured car.
type Vehicle struct {
	VIN         string `gorm:"primaryKey;size:32"`
	Name        string `gorm:"size:128;not null"`
	Brand       string `gorm:"size:32"`
	LinkEnabled bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Associations
	Capabilities []Capability `gorm:"foreignKey:VIN"`
}
