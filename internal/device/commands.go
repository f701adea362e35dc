package device

import (
	"errors"
	"log"
	"time"

	"carlink-backend/internal/vehicle"
)

var (
	// ErrEngineOn rejects remote climate changes while someone is driving.
	ErrEngineOn = errors.New("not available while the engine is on")
	// ErrNotEV rejects charging commands on vehicles without a charging
	// subsystem.
	ErrNotEV = errors.New("vehicle has no charging subsystem")
)

// LockDoors enqueues a lock or unlock command.
func (d *Device) LockDoors(locked bool, source string) error {
	log.Printf("%s: doors locked via %s: %t", d.settings.Name, source, locked)
	if locked {
		d.Enqueue(CmdLock, nil)
	} else {
		d.Enqueue(CmdUnlock, nil)
	}
	return nil
}

// ClimateOnOff starts or stops the climate control at the stored target
// temperature.
func (d *Device) ClimateOnOff(on bool, source string) error {
	if d.capBool("engine") {
		return ErrEngineOn
	}
	log.Printf("%s: climate control via %s: %t", d.settings.Name, source, on)
	args := vehicle.ClimateArgs{
		Temperature: d.targetTemperature(),
		Defrost:     d.capBool("defrost"),
	}
	if on {
		d.Enqueue(CmdStartClimate, args)
	} else {
		d.Enqueue(CmdStopClimate, args)
	}
	return nil
}

// DefrostOnOff starts or stops climate with windscreen heating.
func (d *Device) DefrostOnOff(on bool, source string) error {
	if d.capBool("engine") {
		return ErrEngineOn
	}
	log.Printf("%s: defrost via %s: %t", d.settings.Name, source, on)
	args := vehicle.ClimateArgs{
		Temperature:       d.targetTemperature(),
		Defrost:           on,
		WindscreenHeating: on,
	}
	if on {
		d.Enqueue(CmdStartClimate, args)
	} else {
		d.Enqueue(CmdStopClimate, args)
	}
	return nil
}

// SetTargetTemp stores the target temperature and, when climate control is
// already running, re-sends the start command with the new setpoint.
func (d *Device) SetTargetTemp(temp float64, source string) error {
	if d.capBool("engine") {
		return ErrEngineOn
	}
	log.Printf("%s: target temperature via %s: %.1f", d.settings.Name, source, temp)
	ctx := d.currentRunCtx()
	d.setCapability(ctx, "target_temperature", temp)
	if d.capBool("climate_control") {
		d.Enqueue(CmdStartClimate, vehicle.ClimateArgs{
			Temperature: temp,
			Defrost:     d.capBool("defrost"),
		})
	}
	return nil
}

// ChargingOnOff starts or stops charging.
func (d *Device) ChargingOnOff(charge bool, source string) error {
	if !d.IsEV() {
		return ErrNotEV
	}
	log.Printf("%s: charging via %s: %t", d.settings.Name, source, charge)
	if charge {
		d.Enqueue(CmdStartCharge, nil)
	} else {
		d.Enqueue(CmdStopCharge, nil)
	}
	return nil
}

// SetChargeTargets enqueues new slow and fast charge limits. The backend
// accepts limits between 50 and 100 percent.
func (d *Device) SetChargeTargets(targets vehicle.ChargeTargets, source string) error {
	if !d.IsEV() {
		return ErrNotEV
	}
	if targets.Slow < 50 || targets.Slow > 100 || targets.Fast < 50 || targets.Fast > 100 {
		return errors.New("charge targets must be between 50 and 100")
	}
	log.Printf("%s: charge targets via %s: slow %d fast %d", d.settings.Name, source, targets.Slow, targets.Fast)
	d.Enqueue(CmdSetChargeTargets, targets)
	return nil
}

// SetDestination sends a navigation waypoint to the head unit.
func (d *Device) SetDestination(wp vehicle.Waypoint, source string) error {
	log.Printf("%s: destination via %s: %s", d.settings.Name, source, wp.Name)
	d.Enqueue(CmdSetNavigation, []vehicle.Waypoint{wp})
	return nil
}

// RefreshStatus enqueues a poll. A forced refresh from a person also
// counts as car activity, so the engine-on cadence logic sees it.
func (d *Device) RefreshStatus(force bool, source string) {
	log.Printf("%s: refresh status via %s (force: %t)", d.settings.Name, source, force)
	if force && (source == "app" || source == "cloud") {
		d.setCarLastActive(time.Now())
	}
	d.setCapability(d.currentRunCtx(), "refresh_status", true)
	d.Enqueue(CmdPoll, force)
}

func (d *Device) targetTemperature() float64 {
	if t := d.capFloat("target_temperature"); t > 0 {
		return t
	}
	return 22
}
