package device

import (
	"context"
	"log"
	"time"

	"carlink-backend/config"
	"carlink-backend/internal/signal"
	"carlink-backend/internal/vehicle"
)

// PollMode governs the interval timer and the live-refresh decision.
type PollMode int32

const (
	PollNormal   PollMode = 0
	PollEngineOn PollMode = 1
)

// activeWindow is how long car-active evidence keeps the engine-on poll
// mode alive.
const activeWindow = 3 * time.Minute

// Snapshot is the last known truth for one vehicle. Status, location and
// odometer are always replaced together as a single poll result.
type Snapshot struct {
	Status        *vehicle.Status
	Location      *vehicle.Location
	Odometer      *vehicle.Odometer
	ChargeTargets vehicle.ChargeTargets
	LastRefresh   time.Time
}

// DecidePoll decides whether a poll cycle may wake the vehicle for a live
// refresh or must settle for the cached server copy.
//
// Engine-on mode always refreshes: the car is believed in use and cached
// data is stale by definition. Otherwise a weak 12V battery vetoes any
// refresh, and a refresh needs either an explicit force or an elapsed
// forced-interval window scaled by battery charge: at a 5-minute configured
// interval and full charge the window is 24 hours.
func DecidePoll(mode PollMode, forceOnce bool, status *vehicle.Status, batterySoC int, s config.Settings, lastRefresh, now time.Time) bool {
	if mode == PollEngineOn {
		return true
	}

	batteryGood := true
	if status != nil && status.Battery != nil {
		batteryGood = status.Battery.SoC > s.BatteryAlarmLevel
	}
	if !batteryGood {
		return false
	}
	if forceOnce {
		return true
	}
	if s.PollIntervalForced <= 0 {
		return false
	}

	soc := batterySoC
	if soc <= 0 {
		soc = 50
	}
	elapsed := now.Sub(lastRefresh)
	window := time.Duration(float64(24*time.Hour) * (s.PollIntervalForced.Minutes() / 5) * (float64(soc) / 100))
	return elapsed > s.PollIntervalForced && elapsed > window
}

// doPoll runs one poll cycle: fetch state (cached or live), update the
// snapshot atomically, derive signals and apply them, then adjust the poll
// mode. Returned errors are folded into the watchdog by the queue consumer.
func (d *Device) doPoll(ctx context.Context, forceOnce bool) error {
	v := d.vehicleHandle()
	if v == nil {
		return errNotLoggedIn
	}

	now := time.Now()
	snap := d.snapshot()
	firstPoll := snap.Status == nil
	mode := d.PollMode()

	refresh := DecidePoll(mode, forceOnce, snap.Status, d.capInt("measure_battery.12V"), d.settings, snap.LastRefresh, now)

	full, advanced := v.(vehicle.FullStatusProvider)

	status := snap.Status
	location := snap.Location
	odometer := snap.Odometer
	lastRefresh := snap.LastRefresh

	if refresh {
		log.Printf("%s: status refresh from car", d.settings.Name)
		if advanced {
			fs, err := full.FullStatus(ctx, true)
			if err != nil {
				return err
			}
			status = fs.Status
			if fs.Location != nil {
				location = fs.Location
			} else if loc, err := v.Location(ctx); err == nil {
				location = loc
			}
			if fs.Odometer != nil {
				odometer = fs.Odometer
			} else if odo, err := v.Odometer(ctx); err == nil {
				odometer = odo
			}
		} else {
			st, err := v.Status(ctx, true)
			if err != nil {
				return err
			}
			status = st
			loc, err := v.Location(ctx)
			if err != nil {
				return err
			}
			location = loc
			odo, err := v.Odometer(ctx)
			if err != nil {
				return err
			}
			odometer = odo
		}
		lastRefresh = now
	} else {
		if advanced {
			fs, err := full.FullStatus(ctx, false)
			if err != nil {
				return err
			}
			status = fs.Status
			if snap.Status != nil && status.ServerTime != snap.Status.ServerTime {
				log.Printf("%s: server info changed (%s -> %s)", d.settings.Name, snap.Status.ServerTime, status.ServerTime)
				lastRefresh = now
			}
			if fs.Location != nil {
				location = fs.Location
			}
			if fs.Odometer != nil {
				odometer = fs.Odometer
			}
		} else {
			st, err := v.Status(ctx, false)
			if err != nil {
				return err
			}
			status = st
			if snap.Status == nil || st.ServerTime != snap.Status.ServerTime {
				// The vehicle refreshed the server copy on its own, for
				// example after a drive. Pull location and odometer from
				// the car directly without a full live refresh.
				log.Printf("%s: server info changed", d.settings.Name)
				if loc, err := v.Location(ctx); err == nil {
					location = loc
				} else {
					log.Printf("%s: location supplement failed: %v", d.settings.Name, err)
				}
				if odo, err := v.Odometer(ctx); err == nil {
					odometer = odo
				} else {
					log.Printf("%s: odometer supplement failed: %v", d.settings.Name, err)
				}
				lastRefresh = now
			}
		}
	}

	info := Snapshot{
		Status:        status,
		Location:      location,
		Odometer:      odometer,
		ChargeTargets: snap.ChargeTargets,
		LastRefresh:   lastRefresh,
	}

	if firstPoll {
		d.migrate(ctx, status)
	}

	// refresh charge targets only on first poll, just parked or just charging
	if d.IsEV() && status.EV != nil {
		hasParked := signal.IsParking(status, location, d.ParkLocation())
		startedCharge := !d.capBool("charging") && status.EV.Charging
		if firstPoll || hasParked || startedCharge {
			if targets, err := v.GetChargeTargets(ctx); err == nil {
				info.ChargeTargets = *targets
			} else {
				log.Printf("%s: charge target refresh failed: %v", d.settings.Name, err)
			}
		}
	}

	d.setSnapshot(info)

	if signal.CarActive(status, d.capInt("charger"), d.capBool("closed_locked")) {
		d.setCarLastActive(now)
	}
	carJustActive := now.Sub(d.carLastActive()) < activeWindow

	if refresh && d.IsEV() {
		d.forwardTelemetry(info)
	}

	d.handleInfo(ctx, info)

	// fix charger state after a live refresh that showed plugged-but-idle
	if refresh && d.IsEV() && status.EV != nil && status.EV.PluggedIn != vehicle.PlugNone && !status.EV.Charging {
		log.Printf("%s: plugged in but not charging, sending charger state fix", d.settings.Name)
		d.setFixStateTime(now)
		d.enqueue(item{cmd: CmdStopCharge, enqueued: now})
	}

	// variable polling interval based on active state
	if d.settings.PollIntervalEngine > 0 && mode == PollNormal && carJustActive {
		d.setPollMode(PollEngineOn)
		d.startPolling(d.settings.PollIntervalEngine)
	} else if mode == PollEngineOn && !carJustActive {
		d.setPollMode(PollNormal)
		d.startPolling(d.settings.PollInterval)
	}

	return nil
}
