package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"carlink-backend/config"
	"carlink-backend/internal/device"
	"carlink-backend/internal/model"
	"carlink-backend/internal/store"
	"carlink-backend/internal/vehicle"
)

// stubAccount satisfies vehicle.Account without ever producing handles.
type stubAccount struct{}

func (stubAccount) OnReady(func([]vehicle.Pollable)) {}
func (stubAccount) OnError(func(error))              {}
func (stubAccount) Connect(context.Context) error    { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Vehicles = []config.VehicleConfig{{VIN: "KMTEST0000000001", Name: "test car", Brand: "kia"}}
	cfg.Poll.IntervalMinutes = 60
	cfg.Alarms.BatteryAlarmLevel = 40
	cfg.Alarms.EVBatteryAlarmLevel = 20
	cfg.Remote.Secret = "s3cret-token"
	cfg.Remote.PublicURL = "https://carlink.example"
	cfg.Server.RateLimitPerSec = 1000
	return cfg
}

func newTestRouter(t *testing.T) (*gin.Engine, *device.Manager, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	st := store.NewGormStore(db)

	cfg := testConfig()
	m := device.NewManager(cfg, st, stubAccount{}, device.Collaborators{}, nil)
	require.NoError(t, m.StartAll(context.Background()))
	t.Cleanup(m.StopAll)

	return NewRouter(cfg, m, st, &webpush.Options{VAPIDPublicKey: "pubkey"}), m, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetVehicles(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/vehicles", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Vehicles []struct {
			VIN      string `json:"vin"`
			Name     string `json:"name"`
			PollMode string `json:"poll_mode"`
		} `json:"vehicles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Vehicles, 1)
	assert.Equal(t, "KMTEST0000000001", resp.Vehicles[0].VIN)
	assert.Equal(t, "test car", resp.Vehicles[0].Name)
	assert.Equal(t, "normal", resp.Vehicles[0].PollMode)
}

func TestGetVehicleStatus(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/vehicles/KMTEST0000000001/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "KMTEST0000000001", resp["vin"])
	assert.Contains(t, resp, "capabilities")

	w = doJSON(t, r, http.MethodGet, "/api/vehicles/NOPE/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostCommand(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vehicles/KMTEST0000000001/commands", gin.H{"command": "lock"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/vehicles/KMTEST0000000001/commands", gin.H{"command": "fly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a charging command on a vehicle not known to be an EV conflicts
	w = doJSON(t, r, http.MethodPost, "/api/vehicles/KMTEST0000000001/commands", gin.H{"command": "charge_on"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/vehicles/KMTEST0000000001/commands", gin.H{"command": "set_target_temperature"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "temperature is required")

	w = doJSON(t, r, http.MethodPost, "/api/vehicles/NOPE/commands", gin.H{"command": "lock"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostRefresh(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vehicles/KMTEST0000000001/refresh", gin.H{"force": true})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestPutLinkPersists(t *testing.T) {
	r, _, st := newTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/api/vehicles/KMTEST0000000001/link", gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	enabled, err := st.GetLinkEnabled(context.Background(), "KMTEST0000000001")
	require.NoError(t, err)
	assert.False(t, enabled)

	w = doJSON(t, r, http.MethodPut, "/api/vehicles/KMTEST0000000001/link", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "enabled is required")
}

func TestPutSettingsReplacesDevice(t *testing.T) {
	r, m, _ := newTestRouter(t)
	old := m.Get("KMTEST0000000001")
	require.NotNil(t, old)

	w := doJSON(t, r, http.MethodPut, "/api/vehicles/KMTEST0000000001/settings", gin.H{
		"name":                  "renamed car",
		"poll_interval_minutes": 5,
	})
	require.Equal(t, http.StatusOK, w.Code)

	d := m.Get("KMTEST0000000001")
	require.NotNil(t, d)
	assert.NotSame(t, old, d, "a settings change swaps the device")
	assert.Equal(t, "renamed car", d.Name())
	assert.Equal(t, 5*time.Minute, d.Settings().PollInterval)
	// untouched fields carry over from the previous snapshot
	assert.Equal(t, 40, d.Settings().BatteryAlarmLevel)

	w = doJSON(t, r, http.MethodPut, "/api/vehicles/NOPE/settings", gin.H{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetLiveNeverLeaksMatch(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/live?secret=s3cret-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/live?secret=wrong-secret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String(), "a bad secret is indistinguishable from a good one")
}

func TestGetRemoteURL(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/vehicles/KMTEST0000000001/remote", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://carlink.example/api/live?secret=s3cret-token", resp["url"])
}

func TestSubscriptionLifecycle(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint": "https://push.example/a",
		"p256dh":   "key",
		"auth":     "auth",
		"vin":      "KMTEST0000000001",
		"triggers": []string{"has_parked"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fa", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		VIN      string   `json:"vin"`
		Triggers []string `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "KMTEST0000000001", resp.VIN)
	assert.Equal(t, []string{"has_parked"}, resp.Triggers)

	// unknown vehicles are rejected up front
	w = doJSON(t, r, http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint": "https://push.example/b", "p256dh": "key", "auth": "auth", "vin": "NOPE",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://push.example/a"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fa", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pubkey")
}
