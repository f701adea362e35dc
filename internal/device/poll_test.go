package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carlink-backend/config"
	"carlink-backend/internal/vehicle"
)

func pollSettings() config.Settings {
	return config.Settings{
		VIN:                "KMTEST0000000001",
		Name:               "test car",
		PollInterval:       10 * time.Minute,
		PollIntervalForced: 5 * time.Minute,
		BatteryAlarmLevel:  40,
	}
}

func TestDecidePoll(t *testing.T) {
	now := time.Now()
	goodBattery := &vehicle.Status{Battery: &vehicle.Battery{SoC: 80}}
	weakBattery := &vehicle.Status{Battery: &vehicle.Battery{SoC: 30}}

	t.Run("engine-on mode always refreshes", func(t *testing.T) {
		assert.True(t, DecidePoll(PollEngineOn, false, weakBattery, 30, pollSettings(), now, now))
	})

	t.Run("weak battery vetoes even a forced refresh", func(t *testing.T) {
		assert.False(t, DecidePoll(PollNormal, true, weakBattery, 30, pollSettings(), now, now))
	})

	t.Run("force wins when the battery is fine", func(t *testing.T) {
		assert.True(t, DecidePoll(PollNormal, true, goodBattery, 80, pollSettings(), now, now))
	})

	t.Run("missing battery record reads as good", func(t *testing.T) {
		assert.True(t, DecidePoll(PollNormal, true, &vehicle.Status{}, 0, pollSettings(), now, now))
		assert.True(t, DecidePoll(PollNormal, true, nil, 0, pollSettings(), now, now))
	})

	t.Run("forced interval disabled", func(t *testing.T) {
		s := pollSettings()
		s.PollIntervalForced = 0
		assert.False(t, DecidePoll(PollNormal, false, goodBattery, 80, s, now.Add(-48*time.Hour), now))
	})

	t.Run("forced window scales with battery charge", func(t *testing.T) {
		// 5-minute forced interval and a full battery yields a 24 h window
		s := pollSettings()
		assert.False(t, DecidePoll(PollNormal, false, goodBattery, 100, s, now.Add(-23*time.Hour), now))
		assert.True(t, DecidePoll(PollNormal, false, goodBattery, 100, s, now.Add(-25*time.Hour), now))

		// half charge halves the window
		assert.True(t, DecidePoll(PollNormal, false, goodBattery, 50, s, now.Add(-13*time.Hour), now))
		assert.False(t, DecidePoll(PollNormal, false, goodBattery, 50, s, now.Add(-11*time.Hour), now))
	})

	t.Run("unknown charge assumes half", func(t *testing.T) {
		s := pollSettings()
		assert.True(t, DecidePoll(PollNormal, false, goodBattery, 0, s, now.Add(-13*time.Hour), now))
		assert.False(t, DecidePoll(PollNormal, false, goodBattery, 0, s, now.Add(-11*time.Hour), now))
	})

	t.Run("recent refresh blocks the forced window", func(t *testing.T) {
		s := pollSettings()
		assert.False(t, DecidePoll(PollNormal, false, goodBattery, 100, s, now.Add(-2*time.Minute), now))
	})
}

func TestPollModeFollowsCarActivity(t *testing.T) {
	st := newMockStore()
	fv := newFakeVehicle("KMTEST0000000001")
	s := testSettings()
	s.PollIntervalEngine = 30 * time.Minute
	d := New(s, st, &fakeAccount{handles: []vehicle.Pollable{fv}}, Collaborators{})
	d.sleep = func(context.Context, time.Duration) {}
	d.setVehicleHandle(fv)
	defer d.stopPolling()
	ctx := context.Background()

	// a running engine flips the device into the fast cadence
	fv.statuses = []*vehicle.Status{{EngineOn: true, ServerTime: "t1"}}
	require.NoError(t, d.doPoll(ctx, true))
	assert.Equal(t, PollEngineOn, d.PollMode())

	// engine off with recent activity keeps it there
	fv.statuses = []*vehicle.Status{{DoorLock: true, ServerTime: "t2"}}
	require.NoError(t, d.doPoll(ctx, true))
	assert.Equal(t, PollEngineOn, d.PollMode())

	// three quiet minutes revert to the normal cadence
	d.setCarLastActive(time.Now().Add(-4 * time.Minute))
	fv.statuses = []*vehicle.Status{{DoorLock: true, ServerTime: "t3"}}
	require.NoError(t, d.doPoll(ctx, true))
	assert.Equal(t, PollNormal, d.PollMode())
}
