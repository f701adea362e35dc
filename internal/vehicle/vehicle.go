package vehicle

import (
	"context"
	"errors"
	"fmt"
)

// Pollable is the capability surface of one vehicle handle. The
// reconciliation loop depends only on this interface; per-brand adapters
// implement it against their backend.
type Pollable interface {
	VIN() string

	// Status reads the cached server copy, or wakes the vehicle's
	// telematics unit when refresh is true.
	Status(ctx context.Context, refresh bool) (*Status, error)
	Location(ctx context.Context) (*Location, error)
	Odometer(ctx context.Context) (*Odometer, error)

	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Start(ctx context.Context, args ClimateArgs) error
	Stop(ctx context.Context, args ClimateArgs) error
	StartCharge(ctx context.Context) error
	StopCharge(ctx context.Context) error
	SetChargeTargets(ctx context.Context, targets ChargeTargets) error
	GetChargeTargets(ctx context.Context) (*ChargeTargets, error)
	SetNavigation(ctx context.Context, waypoints []Waypoint) error
}

// FullStatusProvider is the richer combined call available on some vehicle
// families only (status, location and odometer in one round trip).
type FullStatusProvider interface {
	FullStatus(ctx context.Context, refresh bool) (*FullStatus, error)
}

// Account is the boundary with the vehicle-account client: it logs in
// asynchronously and reports vehicle handles or a classified failure.
type Account interface {
	// OnReady registers the callback invoked once login has produced the
	// account's vehicle handles.
	OnReady(func(vehicles []Pollable))
	// OnError registers the callback invoked with classified login or
	// transport failures.
	OnError(func(err error))
	// Connect starts the asynchronous login.
	Connect(ctx context.Context) error
}

// Status is the normalized status payload. Sub-records that not every
// vehicle family reports are pointers; absence is a documented per-field
// fallback decision in the reconciliation loop, not an error.
type Status struct {
	EngineOn     bool
	DoorLock     bool
	DoorOpen     Doors
	TrunkOpen    bool
	HoodOpen     bool
	AirCtrlOn    bool
	Defrost      bool
	AirTempCode  string // raw code such as "10H"
	TirePressure TirePressureLamps
	Battery      *Battery  // 12V battery, missing on some families
	EV           *EVStatus // nil for ICE-only vehicles
	RangeKm      *float64  // folded from evStatus or dte by the adapter
	ServerTime   string    // backend timestamp, opaque but comparable
}

// Doors carries the individual door-open flags.
type Doors struct {
	FrontLeft  bool
	FrontRight bool
	BackLeft   bool
	BackRight  bool
}

// Any reports whether any door is open.
func (d Doors) Any() bool {
	return d.FrontLeft || d.FrontRight || d.BackLeft || d.BackRight
}

// TirePressureLamps carries the per-wheel pressure warning flags.
type TirePressureLamps struct {
	All        bool
	FrontLeft  bool
	FrontRight bool
	RearLeft   bool
	RearRight  bool
}

// Battery is the 12V battery sub-record.
type Battery struct {
	SoC int // percent
}

// Plug states reported in EVStatus.PluggedIn.
const (
	PlugNone = 0
	PlugFast = 1
	PlugSlow = 2
)

// EVStatus is the EV sub-record.
type EVStatus struct {
	Charging  bool
	PluggedIn int // PlugNone, PlugFast or PlugSlow
	SoC       int // EV battery percent
}

// Location is a GPS fix.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Speed     float64 // km/h
	Heading   float64
}

// Odometer is the odometer reading.
type Odometer struct {
	Value float64
	Unit  int
}

// ChargeTargets holds the slow and fast charge limits in percent.
type ChargeTargets struct {
	Slow int
	Fast int
}

// ClimateArgs are the arguments for the climate start/stop commands.
type ClimateArgs struct {
	Temperature       float64
	Defrost           bool
	WindscreenHeating bool
}

// Waypoint is a navigation destination.
type Waypoint struct {
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
	Phone     string
	Zip       string
}

// FullStatus is the combined payload of FullStatusProvider.
type FullStatus struct {
	Status   *Status
	Location *Location // nil when the backend omitted the fix
	Odometer *Odometer // nil when the backend omitted the reading
}

// Backend failure classification. The polling core keys its retry and
// backoff policy off these classes.
type ErrorCode int

const (
	CodeOther ErrorCode = iota
	CodeRateLimited
	CodeDuplicate
	CodeNotLoggedIn
)

// Error is a classified backend failure.
type Error struct {
	Code    ErrorCode
	ResCode string // raw backend code, e.g. "5091"
	Msg     string
}

func (e *Error) Error() string {
	if e.ResCode != "" {
		return fmt.Sprintf("backend error %s: %s", e.ResCode, e.Msg)
	}
	return e.Msg
}

// ClassifyResCode maps a raw backend result code to an error class.
// 5091 is the daily-quota lockout, 4004 a duplicate request.
func ClassifyResCode(resCode, msg string) *Error {
	code := CodeOther
	switch resCode {
	case "5091":
		code = CodeRateLimited
	case "4004":
		code = CodeDuplicate
	}
	return &Error{Code: code, ResCode: resCode, Msg: msg}
}

// CodeOf extracts the error class, CodeOther for unclassified errors.
func CodeOf(err error) ErrorCode {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code
	}
	return CodeOther
}
