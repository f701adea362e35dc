package model

import "time"

// ParkLocation is the last confirmed parking position of a vehicle.
type ParkLocation struct {
	VIN       string  `gorm:"primaryKey;size:32"`
	Latitude  float64 `gorm:"not null"`
	Longitude float64 `gorm:"not null"`
	UpdatedAt time.Time
}
