// Package bluelink is the Hyundai/Kia adapter for the vehicle contracts.
// It speaks to a connected-car gateway with a pre-provisioned bearer token;
// the account authentication protocol itself is not implemented here.
package bluelink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"carlink-backend/config"
	"carlink-backend/internal/vehicle"
)

// Account implements vehicle.Account against the gateway. One account is
// shared by all devices of a daemon, so the callbacks are listener lists
// and the vehicle listing is fetched once per generation.
type Account struct {
	cfg    config.AccountConfig
	client *http.Client

	mu      sync.Mutex
	onReady []func([]vehicle.Pollable)
	onError []func(error)
	handles []vehicle.Pollable
	fetched bool
}

// NewAccount creates an account session. Connect must be called to start
// the asynchronous login.
func NewAccount(cfg config.AccountConfig) *Account {
	return &Account{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// OnReady registers a listener. A listener added after the listing has
// already arrived is called immediately.
func (a *Account) OnReady(fn func([]vehicle.Pollable)) {
	a.mu.Lock()
	a.onReady = append(a.onReady, fn)
	handles := a.handles
	a.mu.Unlock()
	if handles != nil {
		fn(handles)
	}
}

func (a *Account) OnError(fn func(error)) {
	a.mu.Lock()
	a.onError = append(a.onError, fn)
	a.mu.Unlock()
}

// Connect fetches the vehicle listing in the background and emits ready or
// error to every listener. Repeated calls while a listing is already held
// are no-ops.
func (a *Account) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.fetched {
		a.mu.Unlock()
		return nil
	}
	a.fetched = true
	a.mu.Unlock()

	go func() {
		var listing struct {
			Vehicles []struct {
				VIN      string `json:"vin"`
				Nickname string `json:"nickname"`
				EV       bool   `json:"ev"`
				Advanced bool   `json:"advanced"` // supports the combined full-status call
			} `json:"vehicles"`
		}
		if err := a.request(ctx, http.MethodGet, "/vehicles", nil, &listing); err != nil {
			a.mu.Lock()
			a.fetched = false
			listeners := append([]func(error){}, a.onError...)
			a.mu.Unlock()
			for _, fn := range listeners {
				fn(err)
			}
			return
		}
		handles := make([]vehicle.Pollable, 0, len(listing.Vehicles))
		for _, v := range listing.Vehicles {
			h := &handle{account: a, vin: v.VIN}
			if v.Advanced {
				handles = append(handles, &advancedHandle{handle: h})
			} else {
				handles = append(handles, h)
			}
		}
		a.mu.Lock()
		a.handles = handles
		listeners := append([]func([]vehicle.Pollable){}, a.onReady...)
		a.mu.Unlock()
		for _, fn := range listeners {
			fn(handles)
		}
	}()
	return nil
}

// envelope is the gateway response wrapper. A non-S retCode carries a
// backend result code used for failure classification.
type envelope struct {
	RetCode string          `json:"retCode"`
	ResCode string          `json:"resCode"`
	ResMsg  string          `json:"resMsg"`
	Result  json.RawMessage `json:"result"`
}

func (a *Account) request(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.GatewayURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.GatewayToken)
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Region != "" {
		req.Header.Set("X-Region", a.cfg.Region)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to unmarshal gateway response: %w", err)
	}
	if env.RetCode != "" && env.RetCode != "S" {
		return vehicle.ClassifyResCode(env.ResCode, env.ResMsg)
	}
	if out != nil {
		result := env.Result
		if result == nil {
			result = raw
		}
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}

// handle is one vehicle on the account.
type handle struct {
	account *Account
	vin     string
}

func (h *handle) VIN() string { return h.vin }

func (h *handle) path(suffix string) string {
	return "/vehicles/" + h.vin + suffix
}

func (h *handle) Status(ctx context.Context, refresh bool) (*vehicle.Status, error) {
	var raw rawStatus
	path := h.path("/status")
	if refresh {
		path += "?refresh=true"
	}
	if err := h.account.request(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw.normalize(), nil
}

func (h *handle) Location(ctx context.Context) (*vehicle.Location, error) {
	var raw rawLocation
	if err := h.account.request(ctx, http.MethodGet, h.path("/location"), nil, &raw); err != nil {
		return nil, err
	}
	return raw.normalize(), nil
}

func (h *handle) Odometer(ctx context.Context) (*vehicle.Odometer, error) {
	var raw rawValue
	if err := h.account.request(ctx, http.MethodGet, h.path("/odometer"), nil, &raw); err != nil {
		return nil, err
	}
	return &vehicle.Odometer{Value: raw.Value, Unit: raw.Unit}, nil
}

func (h *handle) Lock(ctx context.Context) error {
	return h.account.request(ctx, http.MethodPost, h.path("/lock"), nil, nil)
}

func (h *handle) Unlock(ctx context.Context) error {
	return h.account.request(ctx, http.MethodPost, h.path("/unlock"), nil, nil)
}

func (h *handle) Start(ctx context.Context, args vehicle.ClimateArgs) error {
	payload := map[string]any{
		"airTemp":           map[string]any{"value": codeFromTemp(args.Temperature), "unit": 0},
		"defrost":           args.Defrost,
		"windscreenHeating": boolToInt(args.WindscreenHeating),
	}
	return h.account.request(ctx, http.MethodPost, h.path("/start"), payload, nil)
}

func (h *handle) Stop(ctx context.Context, args vehicle.ClimateArgs) error {
	payload := map[string]any{
		"airTemp": map[string]any{"value": codeFromTemp(args.Temperature), "unit": 0},
	}
	return h.account.request(ctx, http.MethodPost, h.path("/stop"), payload, nil)
}

func (h *handle) StartCharge(ctx context.Context) error {
	return h.account.request(ctx, http.MethodPost, h.path("/charge/start"), nil, nil)
}

func (h *handle) StopCharge(ctx context.Context) error {
	return h.account.request(ctx, http.MethodPost, h.path("/charge/stop"), nil, nil)
}

func (h *handle) SetChargeTargets(ctx context.Context, targets vehicle.ChargeTargets) error {
	payload := map[string]any{
		"targetSOClist": []map[string]int{
			{"plugType": 0, "targetSOClevel": targets.Fast},
			{"plugType": 1, "targetSOClevel": targets.Slow},
		},
	}
	return h.account.request(ctx, http.MethodPost, h.path("/charge/targets"), payload, nil)
}

func (h *handle) GetChargeTargets(ctx context.Context) (*vehicle.ChargeTargets, error) {
	var raw struct {
		TargetSOClist []struct {
			PlugType       int `json:"plugType"`
			TargetSOClevel int `json:"targetSOClevel"`
		} `json:"targetSOClist"`
	}
	if err := h.account.request(ctx, http.MethodGet, h.path("/charge/targets"), nil, &raw); err != nil {
		return nil, err
	}
	targets := &vehicle.ChargeTargets{}
	for _, t := range raw.TargetSOClist {
		// plugType 0 is fast, 1 is slow/normal
		if t.PlugType == 0 {
			targets.Fast = t.TargetSOClevel
		} else {
			targets.Slow = t.TargetSOClevel
		}
	}
	return targets, nil
}

func (h *handle) SetNavigation(ctx context.Context, waypoints []vehicle.Waypoint) error {
	payload := make([]map[string]any, 0, len(waypoints))
	for i, w := range waypoints {
		payload = append(payload, map[string]any{
			"waypointID": i,
			"name":       w.Name,
			"addr":       w.Address,
			"zip":        w.Zip,
			"phone":      w.Phone,
			"coord":      map[string]any{"lat": w.Latitude, "lon": w.Longitude, "type": 0},
		})
	}
	return h.account.request(ctx, http.MethodPost, h.path("/navigation"), payload, nil)
}

// advancedHandle adds the combined full-status call (EU vehicle families).
type advancedHandle struct {
	*handle
}

func (h *advancedHandle) FullStatus(ctx context.Context, refresh bool) (*vehicle.FullStatus, error) {
	var raw struct {
		VehicleStatus   *rawStatus   `json:"vehicleStatus"`
		VehicleLocation *rawLocation `json:"vehicleLocation"`
		Odometer        *rawValue    `json:"odometer"`
	}
	path := h.path("/fullstatus")
	if refresh {
		path += "?refresh=true"
	}
	if err := h.account.request(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	if raw.VehicleStatus == nil {
		return nil, fmt.Errorf("gateway returned full status without vehicleStatus")
	}
	full := &vehicle.FullStatus{Status: raw.VehicleStatus.normalize()}
	if raw.VehicleLocation != nil {
		full.Location = raw.VehicleLocation.normalize()
	}
	if raw.Odometer != nil {
		full.Odometer = &vehicle.Odometer{Value: raw.Odometer.Value, Unit: raw.Odometer.Unit}
	}
	return full, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// unknown plug codes count as unplugged
func validPlug(code int) int {
	if code < vehicle.PlugNone || code > vehicle.PlugSlow {
		log.Printf("bluelink: unexpected plug code %d, treating as unplugged", code)
		return vehicle.PlugNone
	}
	return code
}
