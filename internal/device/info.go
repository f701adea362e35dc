package device

import (
	"context"
	"fmt"
	"log"
	"time"

	"carlink-backend/internal/signal"
	"carlink-backend/internal/vehicle"
)

// capability schema version; bump when the capability set changes shape
const schemaLevel = "3"

// handleInfo derives signals from a fresh snapshot, applies them to the
// capability state and fires the resulting triggers.
func (d *Device) handleInfo(ctx context.Context, info Snapshot) {
	status := info.Status
	if status == nil || info.Location == nil {
		return
	}
	loc := info.Location
	s := d.Settings()

	prev := &vehicle.Location{
		Latitude:  d.capFloat("latitude"),
		Longitude: d.capFloat("longitude"),
	}
	moving := signal.IsMoving(loc, prev)
	if moving {
		d.mu.Lock()
		d.lastMovedAt = time.Now()
		d.mu.Unlock()
	}
	hasParked := signal.IsParking(status, loc, d.ParkLocation())
	closedLocked := signal.ClosedAndLocked(status)
	distance := signal.DistanceToHome(loc, s.HomeLatitude, s.HomeLongitude)
	etth := d.estimateTimeToHome(ctx, info, distance)

	batSoC := 0
	if status.Battery != nil {
		batSoC = signal.ClampPercent(status.Battery.SoC)
	}
	batteryAlarm := signal.BatteryAlarm(status, s.BatteryAlarmLevel)
	tireAlarm := signal.TirePressureAlarm(status)
	newBatteryAlarm := batteryAlarm && !d.capBool("alarm_battery")
	newTireAlarm := tireAlarm && !d.capBool("alarm_tire_pressure")

	d.setCapability(ctx, "engine", status.EngineOn)
	d.setCapability(ctx, "locked", status.DoorLock)
	d.setCapability(ctx, "closed_locked", closedLocked)
	d.setCapability(ctx, "climate_control", status.AirCtrlOn)
	d.setCapability(ctx, "defrost", status.Defrost)
	d.setCapability(ctx, "target_temperature", signal.TempFromCode(status.AirTempCode))
	d.setCapability(ctx, "measure_battery.12V", batSoC)
	d.setCapability(ctx, "alarm_battery", batteryAlarm)
	d.setCapability(ctx, "alarm_tire_pressure", tireAlarm)
	d.setCapability(ctx, "latitude", loc.Latitude)
	d.setCapability(ctx, "longitude", loc.Longitude)
	d.setCapability(ctx, "speed", loc.Speed)
	d.setCapability(ctx, "moving", moving)
	d.setCapability(ctx, "distance", distance)
	d.setCapability(ctx, "etth", etth)
	if info.Odometer != nil {
		d.setCapability(ctx, "odometer", info.Odometer.Value)
	}
	if status.RangeKm != nil {
		// a payload without a range reading keeps the last known value
		d.setCapability(ctx, "range", *status.RangeKm)
	}
	newEVAlarm := false
	if d.IsEV() {
		d.setCapability(ctx, "charger", signal.ChargerCode(status.EV))
		if status.EV != nil {
			evAlarm := signal.EVBatteryAlarm(status, s.EVBatteryAlarmLevel)
			newEVAlarm = evAlarm && !d.capBool("alarm_battery.EV")
			d.setCapability(ctx, "charging", status.EV.Charging)
			d.setCapability(ctx, "measure_battery.EV", signal.ClampPercent(status.EV.SoC))
			d.setCapability(ctx, "alarm_battery.EV", evAlarm)
		}
		d.setCapability(ctx, "charge_target_slow", info.ChargeTargets.Slow)
		d.setCapability(ctx, "charge_target_fast", info.ChargeTargets.Fast)
	}
	d.setCapability(ctx, "last_refresh", info.LastRefresh.Format("Jan 02 15:04"))
	d.setCapability(ctx, "refresh_status", false)

	var local, address string
	if d.collab.Geocoder != nil {
		var err error
		local, address, err = d.collab.Geocoder.CarLocation(ctx, loc.Latitude, loc.Longitude)
		if err != nil {
			log.Printf("%s: reverse geocode failed: %v", d.settings.Name, err)
		} else if local != "" {
			d.setCapability(ctx, "location", local)
		}
	}

	tokens := map[string]string{"name": s.Name}
	if moving {
		d.notify("has_moved", tokens)
	}
	if hasParked {
		d.setParkLocation(ctx, loc)
		tokens["address"] = address
		tokens["map"] = fmt.Sprintf("https://www.google.com/maps?q=%f,%f", loc.Latitude, loc.Longitude)
		d.notify("has_parked", tokens)
	}
	if time.Since(info.LastRefresh) < statusUpdateFreshness {
		d.notify("status_update", tokens)
	}
	if newBatteryAlarm {
		d.notify("alarm_battery", tokens)
	}
	if newEVAlarm {
		d.notify("alarm_battery.EV", tokens)
	}
	if newTireAlarm {
		d.notify("alarm_tire_pressure", tokens)
	}
}

// estimateTimeToHome is the naive 40 km/h estimate, refined by the
// directions service while the engine is on. Stale snapshots keep the last
// estimate rather than pretending the car teleported.
func (d *Device) estimateTimeToHome(ctx context.Context, info Snapshot, distance float64) int {
	if time.Since(info.LastRefresh) >= 3*time.Minute {
		return d.capInt("etth")
	}
	etth := signal.NaiveTimeToHome(distance)
	if d.collab.Directions != nil && info.Status.EngineOn && distance > 0.15 {
		s := d.Settings()
		mins, err := d.collab.Directions.DurationMinutes(ctx,
			info.Location.Latitude, info.Location.Longitude,
			s.HomeLatitude, s.HomeLongitude)
		if err != nil {
			log.Printf("%s: directions lookup failed: %v", d.settings.Name, err)
		} else {
			etth = mins
		}
	}
	return etth
}

// migrate runs once per device generation, on the first poll: it fixes the
// EV flag from the actual payload and drops EV capabilities from vehicles
// that turn out not to have a charging subsystem.
func (d *Device) migrate(ctx context.Context, status *vehicle.Status) {
	isEV := status.EV != nil
	d.mu.Lock()
	d.isEV = isEV
	d.mu.Unlock()

	if d.capString("schema_level") == schemaLevel {
		return
	}
	log.Printf("%s: migrating capability schema to level %s (ev: %t)", d.settings.Name, schemaLevel, isEV)
	if !isEV {
		for _, name := range []string{"charger", "charging", "charge_target_slow", "charge_target_fast", "measure_battery.EV", "alarm_battery.EV"} {
			d.removeCapability(ctx, name)
		}
	}
	d.setCapability(ctx, "schema_level", schemaLevel)
}

// forwardTelemetry pushes one sample to the route planner after a live EV
// refresh. Failures are logged and forgotten.
func (d *Device) forwardTelemetry(info Snapshot) {
	if d.collab.Telemetry == nil || info.Status == nil || info.Status.EV == nil || info.Location == nil {
		return
	}
	ev := info.Status.EV
	loc := info.Location
	dcfc := ev.Charging && ev.PluggedIn == vehicle.PlugFast
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := d.collab.Telemetry.Send(ctx, loc.Latitude, loc.Longitude, loc.Speed,
			signal.ClampPercent(ev.SoC), ev.Charging, dcfc)
		if err != nil {
			log.Printf("%s: telemetry forward failed: %v", d.settings.Name, err)
		}
	}()
}
