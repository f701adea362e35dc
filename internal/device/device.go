// Package device implements the polling and reconciliation core for one
// vehicle: the command queue, the watchdog, the poll loop and the derived
// capability state.
package device

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"carlink-backend/config"
	"carlink-backend/internal/store"
	"carlink-backend/internal/vehicle"
)

var errNotLoggedIn = &vehicle.Error{Code: vehicle.CodeNotLoggedIn, Msg: "pausing queue; not logged in"}

// Notifier is the flow/notification sink. Delivery failures are the
// sink's own problem; it must never block or propagate errors.
type Notifier interface {
	Notify(vin, trigger string, tokens map[string]string)
}

// Geocoder resolves a coordinate to a short location name and a full
// address. Best-effort collaborator.
type Geocoder interface {
	CarLocation(ctx context.Context, lat, lon float64) (local, address string, err error)
}

// DirectionsClient returns the live driving duration in minutes between
// two coordinates. Best-effort collaborator.
type DirectionsClient interface {
	DurationMinutes(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (int, error)
}

// TelemetrySender pushes one derived telemetry sample to the route
// planner. Fire and forget.
type TelemetrySender interface {
	Send(ctx context.Context, lat, lon, speed float64, soc int, charging, dcfc bool) error
}

// Collaborators are the optional external clients of a device. Nil fields
// disable the corresponding feature.
type Collaborators struct {
	Notifier   Notifier
	Geocoder   Geocoder
	Directions DirectionsClient
	Telemetry  TelemetrySender
}

const (
	defaultRestartDelay   = 5 * time.Minute
	quotaLockoutDelay     = 60 * time.Minute
	startupStagger        = 15 * time.Second
	fixStateCooldown      = 15 * time.Second
	duplicateRetryDelay   = 30 * time.Second
	accountErrorWait      = 15 * time.Second
	statusUpdateFreshness = 30 * time.Second
)

// Device owns the polling lifecycle of one vehicle. Each device has an
// independent queue, timer and watchdog; nothing is shared between
// vehicles.
type Device struct {
	settings config.Settings
	store    store.Store
	account  vehicle.Account
	collab   Collaborators

	queue    *queue
	watchdog *Watchdog

	busy           atomic.Bool
	disabled       atomic.Bool
	restarting     atomic.Bool
	noLoginCharged atomic.Bool

	mu            sync.Mutex
	veh           vehicle.Pollable
	snap          Snapshot
	caps          map[string]string
	park          *vehicle.Location
	available     bool
	availReason   string
	isEV          bool
	pollMode      PollMode
	carActiveAt   time.Time
	lastMovedAt   time.Time
	fixStateAt    time.Time
	lastCmd       Command
	tickerStop    chan struct{}
	runCtx        context.Context
	runCancel     context.CancelFunc
	parent        context.Context

	// overridable in tests
	sleep        func(context.Context, time.Duration)
	restartDelay time.Duration
	stagger      time.Duration
}

// New creates a device for one configured vehicle. Start must be called
// to begin polling.
func New(settings config.Settings, st store.Store, account vehicle.Account, collab Collaborators) *Device {
	d := &Device{
		settings:     settings,
		store:        st,
		account:      account,
		collab:       collab,
		queue:        newQueue(),
		caps:         make(map[string]string),
		sleep:        sleepContext,
		restartDelay: defaultRestartDelay,
		stagger:      startupStagger,
	}
	d.watchdog = NewWatchdog(func() {
		log.Printf("%s: watchdog triggered, restarting device now", d.settings.Name)
		d.restartDevice(0, "Device is restarting. Wait a few minutes.")
	})
	return d
}

// Start enters the lifecycle: seed state from the store, connect the
// account, start the queue consumer and schedule the initial polls.
func (d *Device) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.noLoginCharged.Store(false)

	caps, err := d.store.GetCapabilities(ctx, d.settings.VIN)
	if err != nil {
		log.Printf("%s: could not load capabilities: %v", d.settings.Name, err)
		caps = make(map[string]string)
	}
	park, err := d.store.GetParkLocation(ctx, d.settings.VIN)
	if err != nil {
		log.Printf("%s: could not load park location: %v", d.settings.Name, err)
	}

	d.mu.Lock()
	d.parent = ctx
	d.runCtx = runCtx
	d.runCancel = cancel
	d.caps = caps
	d.veh = nil
	d.snap = Snapshot{}
	d.pollMode = PollNormal
	_, d.isEV = caps["charger"]
	// seed the last known position so movement and parking detection
	// survive a restart
	if lat, err1 := strconv.ParseFloat(caps["latitude"], 64); err1 == nil {
		if lon, err2 := strconv.ParseFloat(caps["longitude"], 64); err2 == nil {
			d.snap.Location = &vehicle.Location{Latitude: lat, Longitude: lon}
		}
	}
	d.park = park
	if d.park == nil {
		d.park = d.snap.Location
	}
	d.snap.ChargeTargets = vehicle.ChargeTargets{
		Slow: capIntOr(caps, "charge_target_slow", 80),
		Fast: capIntOr(caps, "charge_target_fast", 80),
	}
	d.mu.Unlock()

	d.account.OnReady(func(vehicles []vehicle.Pollable) {
		for _, v := range vehicles {
			if v.VIN() == d.settings.VIN {
				log.Printf("%s: vehicle handle ready (%s)", d.settings.Name, v.VIN())
				d.setVehicleHandle(v)
				return
			}
		}
		log.Printf("%s: no vehicle with VIN %s in this account", d.settings.Name, d.settings.VIN)
	})
	d.account.OnError(func(err error) { d.onAccountError(err) })
	if err := d.account.Connect(runCtx); err != nil {
		return fmt.Errorf("account connect failed: %w", err)
	}

	go d.consume(runCtx)

	// two staggered initial polls, then the interval timer
	go func() {
		d.sleep(runCtx, d.stagger)
		if runCtx.Err() != nil {
			return
		}
		d.Enqueue(CmdPoll, false)
		d.sleep(runCtx, d.stagger)
		if runCtx.Err() != nil {
			return
		}
		d.Enqueue(CmdPoll, true)
		d.startPolling(d.settings.PollInterval)
	}()

	return nil
}

// Enqueue appends a command unless the live link is disabled. A full
// queue drops the command; enqueue never blocks.
func (d *Device) Enqueue(cmd Command, args any) {
	if d.disabled.Load() {
		log.Printf("%s: ignoring %s; live link is disabled", d.settings.Name, cmd)
		return
	}
	d.enqueue(item{cmd: cmd, args: args, enqueued: time.Now()})
}

func (d *Device) enqueue(it item) {
	d.queue.enqueue(it)
}

// consume drains the queue one item at a time, strictly serialized.
// Without a vehicle handle the drain pauses on the current item; nothing
// behind it is pulled until the account produces a handle.
func (d *Device) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-d.queue.items:
			for !d.processItem(ctx, it) {
				if ctx.Err() != nil {
					return
				}
			}
			if d.queue.empty() {
				d.onQueueEmpty()
			}
		}
	}
}

// processItem executes one queue item. It reports false when no vehicle
// handle is available yet; the caller keeps the item and retries it.
func (d *Device) processItem(ctx context.Context, it item) bool {
	d.busy.Store(true)

	if d.vehicleHandle() == nil {
		// structural problem, not a flaky call: decay once per outage,
		// keep the queue in memory and pause the drain
		if d.noLoginCharged.CompareAndSwap(false, true) {
			log.Printf("%s: %v", d.settings.Name, errNotLoggedIn)
			d.watchdog.RecordFailure(WeightNoLogin)
		}
		d.busy.Store(false)
		d.sleep(ctx, accountErrorWait)
		return false
	}
	d.noLoginCharged.Store(false)

	d.setLastCommand(it.cmd)
	err := d.dispatch(ctx, it)

	if err != nil && vehicle.CodeOf(err) == vehicle.CodeDuplicate {
		log.Printf("%s: %s failed (duplicate request), retrying in 30 seconds", d.settings.Name, it.cmd)
		d.sleep(ctx, duplicateRetryDelay)
		err = d.dispatch(ctx, it)
	}

	switch {
	case err == nil:
		d.watchdog.RecordSuccess()
		d.setAvailable()
	case vehicle.CodeOf(err) == vehicle.CodeRateLimited:
		log.Printf("%s: daily quota reached, pausing for 60 minutes", d.settings.Name)
		d.restartDevice(quotaLockoutDelay, "Daily quota reached. Waiting 60 minutes.")
		return true
	default:
		log.Printf("%s: %s failed: %v", d.settings.Name, it.cmd, err)
		d.watchdog.RecordFailure(WeightCommand)
	}

	wait, ok := settleTime[it.cmd]
	if !ok {
		wait = 5 * time.Second
	}
	d.sleep(ctx, wait)
	return true
}

func (d *Device) dispatch(ctx context.Context, it item) error {
	v := d.vehicleHandle()
	if v == nil {
		return errNotLoggedIn
	}
	switch it.cmd {
	case CmdPoll:
		force, _ := it.args.(bool)
		return d.doPoll(ctx, force)
	case CmdLock:
		return v.Lock(ctx)
	case CmdUnlock:
		return v.Unlock(ctx)
	case CmdStartClimate:
		args, _ := it.args.(vehicle.ClimateArgs)
		return v.Start(ctx, args)
	case CmdStopClimate:
		args, _ := it.args.(vehicle.ClimateArgs)
		return v.Stop(ctx, args)
	case CmdStartCharge:
		return v.StartCharge(ctx)
	case CmdStopCharge:
		return v.StopCharge(ctx)
	case CmdSetChargeTargets:
		targets, _ := it.args.(vehicle.ChargeTargets)
		return v.SetChargeTargets(ctx, targets)
	case CmdSetNavigation:
		waypoints, _ := it.args.([]vehicle.Waypoint)
		return v.SetNavigation(ctx, waypoints)
	default:
		return fmt.Errorf("unknown command %q", it.cmd)
	}
}

// onQueueEmpty enqueues one follow-up poll to observe the effect of the
// just-executed command, unless the last command was itself a poll or a
// charger-state fix is cooling down.
func (d *Device) onQueueEmpty() {
	d.busy.Store(false)
	if d.restarting.Load() {
		// the restart has already flushed the queue; a follow-up poll
		// would leak into the next generation
		return
	}
	last := d.lastCommand()
	fixCooling := last == CmdStopCharge && time.Since(d.fixStateTime()) < fixStateCooldown
	if last != "" && last != CmdPoll && !fixCooling {
		d.enqueue(item{cmd: CmdPoll, args: true, enqueued: time.Now()})
	}
}

// startPolling (re)starts the interval timer. A tick enqueues one poll
// unless the previous poll is still executing, in which case the tick is
// skipped and counted against the watchdog.
func (d *Device) startPolling(interval time.Duration) {
	if interval <= 0 {
		interval = d.settings.PollInterval
	}
	d.stopPolling()

	stop := make(chan struct{})
	d.mu.Lock()
	d.tickerStop = stop
	runCtx := d.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	mode := "server"
	if d.pollMode == PollEngineOn {
		mode = "car"
	}
	d.mu.Unlock()
	log.Printf("%s: start polling %s @ %v interval", d.settings.Name, mode, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if d.busy.Load() {
					d.watchdog.RecordFailure(WeightCommand)
					log.Printf("%s: skipping a poll", d.settings.Name)
					continue
				}
				d.Enqueue(CmdPoll, false)
			}
		}
	}()
}

func (d *Device) stopPolling() {
	d.mu.Lock()
	if d.tickerStop != nil {
		close(d.tickerStop)
		d.tickerStop = nil
	}
	d.mu.Unlock()
}

// restartDevice tears the lifecycle down and schedules a fresh Start.
// Idempotent: a restart already in progress is not re-entered.
func (d *Device) restartDevice(delay time.Duration, reason string) {
	if !d.restarting.CompareAndSwap(false, true) {
		return
	}
	if delay <= 0 {
		delay = d.restartDelay
	}
	log.Printf("%s: device will restart in %v", d.settings.Name, delay)

	d.stopPolling()
	d.queue.flush()
	d.watchdog.Reset()
	d.setUnavailable(reason)

	d.mu.Lock()
	parent := d.parent
	cancel := d.runCancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	go func() {
		d.sleep(parent, delay)
		d.restarting.Store(false)
		if parent == nil || parent.Err() != nil {
			return
		}
		if err := d.Start(parent); err != nil {
			log.Printf("%s: restart failed: %v", d.settings.Name, err)
			d.restartDevice(10*time.Minute, "Restart failed. Retrying later.")
		}
	}()
}

// Stop shuts the device down for good (device deletion or daemon exit).
func (d *Device) Stop() {
	d.stopPolling()
	d.queue.flush()
	d.mu.Lock()
	cancel := d.runCancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Device) onAccountError(err error) {
	switch vehicle.CodeOf(err) {
	case vehicle.CodeRateLimited:
		log.Printf("%s: daily quota reached, pausing for 60 minutes", d.settings.Name)
		d.restartDevice(quotaLockoutDelay, "Daily quota reached. Waiting 60 minutes.")
	case vehicle.CodeDuplicate:
		log.Printf("%s: command failed (duplicate request)", d.settings.Name)
		d.watchdog.RecordFailure(WeightCommand)
	default:
		log.Printf("%s: account error: %v", d.settings.Name, err)
		d.watchdog.RecordFailure(WeightCommand)
		if d.vehicleHandle() == nil {
			d.restartDevice(0, "Login failed. Device is restarting.")
		}
	}
}

// SetLinkEnabled is the external disable/enable switch. Disabling stops
// the timer and silently rejects new enqueues; enabling forces one
// immediate poll and restarts the timer.
func (d *Device) SetLinkEnabled(enabled bool, source string) {
	log.Printf("%s: live link enabled via %s: %t", d.settings.Name, source, enabled)
	if !enabled {
		d.disabled.Store(true)
		d.stopPolling()
		d.setUnavailable("Live link has been disabled via " + source)
		return
	}
	d.disabled.Store(false)
	d.setAvailable()
	d.Enqueue(CmdPoll, true)
	interval := d.settings.PollInterval
	if d.PollMode() == PollEngineOn && d.settings.PollIntervalEngine > 0 {
		interval = d.settings.PollIntervalEngine
	}
	d.startPolling(interval)
}

func sleepContext(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func capIntOr(caps map[string]string, name string, fallback int) int {
	if v, err := strconv.Atoi(caps[name]); err == nil {
		return v
	}
	return fallback
}
