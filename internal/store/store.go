// Package store is the persistence boundary: capability state and its
// transition history, park locations and push subscriptions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carlink-backend/internal/model"
	"carlink-backend/internal/vehicle"
)

// Store defines the interface for all database operations.
type Store interface {
	UpsertVehicle(ctx context.Context, vin, name, brand string) error
	SetLinkEnabled(ctx context.Context, vin string, enabled bool) error
	GetLinkEnabled(ctx context.Context, vin string) (bool, error)

	GetCapabilities(ctx context.Context, vin string) (map[string]string, error)
	SetCapability(ctx context.Context, vin, name, value string) error
	DeleteCapability(ctx context.Context, vin, name string) error
	CapabilityHistory(ctx context.Context, vin, name string, limit int) ([]model.CapabilityHistory, error)

	GetParkLocation(ctx context.Context, vin string) (*vehicle.Location, error)
	SetParkLocation(ctx context.Context, vin string, lat, lon float64) error

	Subscriptions(ctx context.Context, vin string) ([]model.PushSubscription, error)
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	SaveSubscription(ctx context.Context, sub model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// UpsertVehicle registers a configured vehicle, updating name and brand
// when they change. LinkEnabled is preserved.
func (s *gormStore) UpsertVehicle(ctx context.Context, vin, name, brand string) error {
	v := model.Vehicle{VIN: vin, Name: name, Brand: brand, LinkEnabled: true}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vin"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "brand", "updated_at"}),
	}).Create(&v).Error
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", vin, err)
	}
	return nil
}

func (s *gormStore) SetLinkEnabled(ctx context.Context, vin string, enabled bool) error {
	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("vin = ?", vin).
		Update("link_enabled", enabled).Error
	if err != nil {
		return fmt.Errorf("failed to set link state for %s: %w", vin, err)
	}
	return nil
}

// GetLinkEnabled reports the persisted link switch; unknown vehicles
// default to enabled.
func (s *gormStore) GetLinkEnabled(ctx context.Context, vin string) (bool, error) {
	var v model.Vehicle
	err := s.db.WithContext(ctx).First(&v, "vin = ?", vin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read vehicle %s: %w", vin, err)
	}
	return v.LinkEnabled, nil
}

func (s *gormStore) GetCapabilities(ctx context.Context, vin string) (map[string]string, error) {
	var caps []model.Capability
	if err := s.db.WithContext(ctx).Where("vin = ?", vin).Find(&caps).Error; err != nil {
		return nil, fmt.Errorf("failed to load capabilities for %s: %w", vin, err)
	}
	out := make(map[string]string, len(caps))
	for _, c := range caps {
		out[c.Name] = c.Value
	}
	return out, nil
}

// SetCapability upserts the current value and appends one history row in
// the same transaction. Callers only invoke this on actual transitions, so
// the history table records changes, not samples.
func (s *gormStore) SetCapability(ctx context.Context, vin, name, value string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := model.Capability{VIN: vin, Name: name, Value: value, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vin"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert capability %s/%s: %w", vin, name, err)
		}
		hist := model.CapabilityHistory{VIN: vin, Name: name, Value: value, ObservedAt: now}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("failed to append history for %s/%s: %w", vin, name, err)
		}
		return nil
	})
}

func (s *gormStore) DeleteCapability(ctx context.Context, vin, name string) error {
	err := s.db.WithContext(ctx).
		Where("vin = ? AND name = ?", vin, name).
		Delete(&model.Capability{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete capability %s/%s: %w", vin, name, err)
	}
	return nil
}

func (s *gormStore) CapabilityHistory(ctx context.Context, vin, name string, limit int) ([]model.CapabilityHistory, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []model.CapabilityHistory
	q := s.db.WithContext(ctx).Where("vin = ?", vin)
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if err := q.Order("observed_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", vin, err)
	}
	return rows, nil
}

func (s *gormStore) GetParkLocation(ctx context.Context, vin string) (*vehicle.Location, error) {
	var p model.ParkLocation
	err := s.db.WithContext(ctx).First(&p, "vin = ?", vin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load park location for %s: %w", vin, err)
	}
	return &vehicle.Location{Latitude: p.Latitude, Longitude: p.Longitude}, nil
}

func (s *gormStore) SetParkLocation(ctx context.Context, vin string, lat, lon float64) error {
	p := model.ParkLocation{VIN: vin, Latitude: lat, Longitude: lon, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vin"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("failed to save park location for %s: %w", vin, err)
	}
	return nil
}

// Subscriptions returns the subscriptions watching a vehicle, including
// the global ones with an empty VIN.
func (s *gormStore) Subscriptions(ctx context.Context, vin string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("vin = ? OR vin = ''", vin).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for %s: %w", vin, err)
	}
	return subs, nil
}

// GetSubscription returns one subscription by endpoint, nil when unknown.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription: %w", err)
	}
	return &sub, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub model.PushSubscription) error {
	sub.CreatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "vin", "triggers"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	err := s.db.WithContext(ctx).Delete(&model.PushSubscription{}, "endpoint = ?", endpoint).Error
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// WantsTrigger reports whether a subscription's trigger filter matches.
func WantsTrigger(sub model.PushSubscription, trigger string) bool {
	if sub.Triggers == "" {
		return true
	}
	for _, t := range strings.Split(sub.Triggers, ",") {
		if strings.TrimSpace(t) == trigger {
			return true
		}
	}
	return false
}
