package device

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"carlink-backend/config"
	"carlink-backend/internal/vehicle"
)

func (d *Device) vehicleHandle() vehicle.Pollable {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.veh
}

func (d *Device) setVehicleHandle(v vehicle.Pollable) {
	d.mu.Lock()
	d.veh = v
	d.mu.Unlock()
}

func (d *Device) snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

func (d *Device) setSnapshot(s Snapshot) {
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
}

// Snapshot returns the latest fetched vehicle state.
func (d *Device) Snapshot() Snapshot {
	return d.snapshot()
}

// VIN identifies this device's vehicle.
func (d *Device) VIN() string { return d.settings.VIN }

// Name is the configured display name.
func (d *Device) Name() string { return d.settings.Name }

// Settings returns the active settings snapshot.
func (d *Device) Settings() config.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// IsEV reports whether the vehicle has a charging subsystem.
func (d *Device) IsEV() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isEV
}

// PollMode reports whether the device is in the fast engine-on cadence.
func (d *Device) PollMode() PollMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pollMode
}

func (d *Device) setPollMode(m PollMode) {
	d.mu.Lock()
	d.pollMode = m
	d.mu.Unlock()
}

// ParkLocation is the last position where the vehicle was seen parked.
func (d *Device) ParkLocation() *vehicle.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.park
}

func (d *Device) setParkLocation(ctx context.Context, loc *vehicle.Location) {
	d.mu.Lock()
	d.park = loc
	d.mu.Unlock()
	if err := d.store.SetParkLocation(ctx, d.settings.VIN, loc.Latitude, loc.Longitude); err != nil {
		log.Printf("%s: could not persist park location: %v", d.settings.Name, err)
	}
}

func (d *Device) carLastActive() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.carActiveAt
}

func (d *Device) setCarLastActive(t time.Time) {
	d.mu.Lock()
	d.carActiveAt = t
	d.mu.Unlock()
}

// LastMoved is when movement was last observed. Zero before the first
// detected move.
func (d *Device) LastMoved() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMovedAt
}

func (d *Device) fixStateTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fixStateAt
}

func (d *Device) setFixStateTime(t time.Time) {
	d.mu.Lock()
	d.fixStateAt = t
	d.mu.Unlock()
}

func (d *Device) lastCommand() Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCmd
}

func (d *Device) setLastCommand(cmd Command) {
	d.mu.Lock()
	d.lastCmd = cmd
	d.mu.Unlock()
}

// Available reports whether the device is usable, and the reason when it
// is not.
func (d *Device) Available() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available, d.availReason
}

func (d *Device) setAvailable() {
	d.mu.Lock()
	changed := !d.available
	d.available = true
	d.availReason = ""
	d.mu.Unlock()
	if changed {
		log.Printf("%s: device is available", d.settings.Name)
	}
}

func (d *Device) setUnavailable(reason string) {
	d.mu.Lock()
	d.available = false
	d.availReason = reason
	d.mu.Unlock()
	log.Printf("%s: device unavailable: %s", d.settings.Name, reason)
}

// Capabilities returns a copy of the current capability map.
func (d *Device) Capabilities() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.caps))
	for k, v := range d.caps {
		out[k] = v
	}
	return out
}

// setCapability formats the value, skips the write when unchanged and
// persists the new value otherwise. Writes are suppressed while the
// value is stable so the store only sees transitions.
func (d *Device) setCapability(ctx context.Context, name string, value any) {
	var s string
	switch v := value.(type) {
	case bool:
		s = strconv.FormatBool(v)
	case int:
		s = strconv.Itoa(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}

	d.mu.Lock()
	if cur, ok := d.caps[name]; ok && cur == s {
		d.mu.Unlock()
		return
	}
	d.caps[name] = s
	d.mu.Unlock()

	if err := d.store.SetCapability(ctx, d.settings.VIN, name, s); err != nil {
		log.Printf("%s: could not persist %s: %v", d.settings.Name, name, err)
	}
}

func (d *Device) removeCapability(ctx context.Context, name string) {
	d.mu.Lock()
	_, ok := d.caps[name]
	delete(d.caps, name)
	d.mu.Unlock()
	if !ok {
		return
	}
	if err := d.store.DeleteCapability(ctx, d.settings.VIN, name); err != nil {
		log.Printf("%s: could not remove %s: %v", d.settings.Name, name, err)
	}
}

func (d *Device) capString(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps[name]
}

func (d *Device) capBool(name string) bool {
	return d.capString(name) == "true"
}

func (d *Device) capInt(name string) int {
	v, _ := strconv.Atoi(d.capString(name))
	return v
}

func (d *Device) capFloat(name string) float64 {
	v, _ := strconv.ParseFloat(d.capString(name), 64)
	return v
}

func (d *Device) currentRunCtx() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runCtx != nil {
		return d.runCtx
	}
	return context.Background()
}

func (d *Device) notify(trigger string, tokens map[string]string) {
	if d.collab.Notifier == nil {
		return
	}
	d.collab.Notifier.Notify(d.settings.VIN, trigger, tokens)
}
