package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// An empty VIN subscribes to all vehicles; an empty Triggers list to all
// triggers. Triggers is a comma separated list.
type PushSubscription struct {
	Endpoint  string `gorm:"primaryKey"`
	P256DH    string `gorm:"column:p256dh;not null"`
	Auth      string `gorm:"not null"`
	VIN       string `gorm:"size:32;index"`
	Triggers  string `gorm:"size:256"`
	CreatedAt time.Time `gorm:"not null"`
}
