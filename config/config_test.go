package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
vehicles:
  - vin: KMTEST0000000001
    name: my car
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Poll.IntervalMinutes)
	assert.Equal(t, 40, cfg.Alarms.BatteryAlarmLevel)
	assert.Equal(t, 20, cfg.Alarms.EVBatteryAlarmLevel)
	assert.Equal(t, 30, cfg.Account.TimeoutSeconds)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "carlink.db", cfg.Database.DSN)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kia", cfg.Vehicles[0].Brand, "brand defaults to kia")
}

func TestLoadRejectsMissingVIN(t *testing.T) {
	path := writeConfig(t, `
vehicles:
  - name: nameless
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSecretSanitizer(t *testing.T) {
	path := writeConfig(t, `
remote:
  secret: "abc<script>&/= DEF-123_*!~"
vehicles:
  - vin: KMTEST0000000001
    name: my car
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abcscriptDEF-123_*!~", cfg.Remote.Secret)
}

func TestDeviceSettings(t *testing.T) {
	path := writeConfig(t, `
poll:
  interval_minutes: 5
  interval_engine_on_minutes: 1
  interval_forced_minutes: 5
home:
  latitude: 52.1
  longitude: 5.3
vehicles:
  - vin: KMTEST0000000001
    name: my car
    brand: hyundai
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.DeviceSettings(cfg.Vehicles[0])
	assert.Equal(t, "KMTEST0000000001", s.VIN)
	assert.Equal(t, "hyundai", s.Brand)
	assert.Equal(t, 5*time.Minute, s.PollInterval)
	assert.Equal(t, time.Minute, s.PollIntervalEngine)
	assert.Equal(t, 5*time.Minute, s.PollIntervalForced)
	assert.Equal(t, 52.1, s.HomeLatitude)
	assert.Equal(t, 5.3, s.HomeLongitude)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
