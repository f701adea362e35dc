package model

import "time"

// Capability is the current value of one derived signal (hot table).
// Values are stored in their string form; the device layer owns typing.
type Capability struct {
	VIN       string    `gorm:"primaryKey;size:32"`
	Name      string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"size:256;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// CapabilityHistory is the transition log (cold table). A row is appended
// only when a value actually changes.
type CapabilityHistory struct {
	ID         int64     `gorm:"autoIncrement;primaryKey"`
	VIN        string    `gorm:"size:32;not null;index:idx_cap_history_vin_name"`
	Name       string    `gorm:"size:64;not null;index:idx_cap_history_vin_name"`
	Value      string    `gorm:"size:256;not null"`
	ObservedAt time.Time `gorm:"not null;index"`
}
