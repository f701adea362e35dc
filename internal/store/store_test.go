package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"carlink-backend/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Vehicle{},
		&model.Capability{},
		&model.CapabilityHistory{},
		&model.ParkLocation{},
		&model.PushSubscription{},
	))
	return NewGormStore(db)
}

func TestVehicleLinkSwitch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVehicle(ctx, "VIN123456", "my car", "kia"))

	enabled, err := s.GetLinkEnabled(ctx, "VIN123456")
	require.NoError(t, err)
	assert.True(t, enabled, "vehicles start with the link enabled")

	require.NoError(t, s.SetLinkEnabled(ctx, "VIN123456", false))
	enabled, err = s.GetLinkEnabled(ctx, "VIN123456")
	require.NoError(t, err)
	assert.False(t, enabled)

	// a re-upsert must not flip the switch back
	require.NoError(t, s.UpsertVehicle(ctx, "VIN123456", "renamed", "kia"))
	enabled, err = s.GetLinkEnabled(ctx, "VIN123456")
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = s.GetLinkEnabled(ctx, "UNKNOWNVIN")
	require.NoError(t, err)
	assert.True(t, enabled, "unknown vehicles default to enabled")
}

func TestCapabilityRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCapability(ctx, "VIN123456", "locked", "true"))
	require.NoError(t, s.SetCapability(ctx, "VIN123456", "charger", "2"))
	require.NoError(t, s.SetCapability(ctx, "VIN123456", "locked", "false"))
	require.NoError(t, s.SetCapability(ctx, "OTHERVIN99", "locked", "true"))

	caps, err := s.GetCapabilities(ctx, "VIN123456")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"locked": "false", "charger": "2"}, caps)

	require.NoError(t, s.DeleteCapability(ctx, "VIN123456", "charger"))
	caps, err = s.GetCapabilities(ctx, "VIN123456")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"locked": "false"}, caps)
}

func TestCapabilityHistoryRecordsTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCapability(ctx, "VIN123456", "locked", "true"))
	require.NoError(t, s.SetCapability(ctx, "VIN123456", "locked", "false"))
	require.NoError(t, s.SetCapability(ctx, "VIN123456", "engine", "true"))

	rows, err := s.CapabilityHistory(ctx, "VIN123456", "locked", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// newest first
	assert.Equal(t, "false", rows[0].Value)
	assert.Equal(t, "true", rows[1].Value)

	all, err := s.CapabilityHistory(ctx, "VIN123456", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestParkLocationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetParkLocation(ctx, "VIN123456")
	require.NoError(t, err)
	assert.Nil(t, p, "no park location before the first parking event")

	require.NoError(t, s.SetParkLocation(ctx, "VIN123456", 52.0, 5.0))
	require.NoError(t, s.SetParkLocation(ctx, "VIN123456", 52.0004, 5.0001))

	p, err = s.GetParkLocation(ctx, "VIN123456")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 52.0004, p.Latitude, 1e-9)
	assert.InDelta(t, 5.0001, p.Longitude, 1e-9)
}

func TestSubscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSubscription(ctx, model.PushSubscription{
		Endpoint: "https://push.example/a", P256DH: "k", Auth: "a", VIN: "VIN123456", Triggers: "has_parked",
	}))
	require.NoError(t, s.SaveSubscription(ctx, model.PushSubscription{
		Endpoint: "https://push.example/b", P256DH: "k", Auth: "a", // global
	}))
	require.NoError(t, s.SaveSubscription(ctx, model.PushSubscription{
		Endpoint: "https://push.example/c", P256DH: "k", Auth: "a", VIN: "OTHERVIN99",
	}))

	subs, err := s.Subscriptions(ctx, "VIN123456")
	require.NoError(t, err)
	assert.Len(t, subs, 2, "the per-vehicle and the global subscription match")

	sub, err := s.GetSubscription(ctx, "https://push.example/a")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "has_parked", sub.Triggers)

	require.NoError(t, s.DeleteSubscription(ctx, "https://push.example/a"))
	sub, err = s.GetSubscription(ctx, "https://push.example/a")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestWantsTrigger(t *testing.T) {
	assert.True(t, WantsTrigger(model.PushSubscription{}, "has_parked"))
	assert.True(t, WantsTrigger(model.PushSubscription{Triggers: "has_parked"}, "has_parked"))
	assert.True(t, WantsTrigger(model.PushSubscription{Triggers: "has_moved, has_parked"}, "has_parked"))
	assert.False(t, WantsTrigger(model.PushSubscription{Triggers: "has_moved"}, "has_parked"))
}
