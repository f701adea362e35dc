// Package signal computes derived vehicle signals from status and location
// snapshots. Everything here is pure and deterministic; timestamps and
// persistence are the caller's concern.
package signal

import (
	"math"
	"strconv"
	"strings"

	"carlink-backend/internal/vehicle"
)

// Coordinate deltas treated as movement. Roughly 11 m and 33 m.
const (
	moveThresholdDeg = 0.0001
	parkThresholdDeg = 0.0003
)

// ClosedAndLocked reports whether the car is fully closed and locked:
// doors locked, trunk and hood shut, no individual door open.
func ClosedAndLocked(status *vehicle.Status) bool {
	return status.DoorLock && !status.TrunkOpen && !status.HoodOpen && !status.DoorOpen.Any()
}

// IsMoving reports whether the car moved between two consecutive location
// samples: a nonzero speed or a coordinate drift beyond ~11 m.
func IsMoving(cur, prev *vehicle.Location) bool {
	if cur == nil {
		return false
	}
	if cur.Speed > 0 {
		return true
	}
	if prev == nil {
		return false
	}
	return math.Abs(cur.Latitude-prev.Latitude) > moveThresholdDeg ||
		math.Abs(cur.Longitude-prev.Longitude) > moveThresholdDeg
}

// IsParking reports a genuinely new parking event: engine off and the
// current location more than ~33 m from the stored park location. While the
// engine is on the car is driving, never parking.
func IsParking(status *vehicle.Status, cur, park *vehicle.Location) bool {
	if status.EngineOn || cur == nil || park == nil {
		return false
	}
	return math.Abs(cur.Latitude-park.Latitude) > parkThresholdDeg ||
		math.Abs(cur.Longitude-park.Longitude) > parkThresholdDeg
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two coordinates in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// DistanceToHome returns the distance from the location to home, rounded
// to 2 decimals (km).
func DistanceToHome(loc *vehicle.Location, homeLat, homeLon float64) float64 {
	if loc == nil {
		return 0
	}
	d := Haversine(loc.Latitude, loc.Longitude, homeLat, homeLon)
	return math.Round(d*100) / 100
}

// NaiveTimeToHome estimates minutes to home at a 40 km/h average. Below
// 150 m the car is considered home.
func NaiveTimeToHome(distanceKm float64) int {
	if distanceKm <= 0.15 {
		return 0
	}
	return int(math.Round(60 * distanceKm / 40))
}

// Charger ordinals: plug state and charging activity folded into one value
// so a single capability can encode the 2x2 state space.
const (
	ChargerUnplugged       = 0
	ChargerFastCharging    = 1
	ChargerSlowCharging    = 2
	ChargerFastNotCharging = 3
	ChargerSlowNotCharging = 4
)

// ChargerCode derives the charger ordinal from the EV sub-record.
// Unplugged always yields 0 regardless of the charging flag.
func ChargerCode(ev *vehicle.EVStatus) int {
	if ev == nil || ev.PluggedIn == vehicle.PlugNone {
		return ChargerUnplugged
	}
	code := ev.PluggedIn
	if !ev.Charging {
		code += 2
	}
	return code
}

// ClampPercent bounds a battery percentage to [0,100]. Some vehicle
// families report slightly over 100 due to sensor noise.
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// BatteryAlarm reports a low 12V battery. A missing battery sub-record
// reads as "no alarm".
func BatteryAlarm(status *vehicle.Status, threshold int) bool {
	return status.Battery != nil && ClampPercent(status.Battery.SoC) < threshold
}

// EVBatteryAlarm reports a low EV battery for EV-capable vehicles.
func EVBatteryAlarm(status *vehicle.Status, threshold int) bool {
	return status.EV != nil && ClampPercent(status.EV.SoC) < threshold
}

// TirePressureAlarm reports whether any wheel's pressure lamp is on.
func TirePressureAlarm(status *vehicle.Status) bool {
	t := status.TirePressure
	return t.All || t.FrontLeft || t.FrontRight || t.RearLeft || t.RearRight
}

// CarActive reports evidence the car is in use: engine or climate running,
// just unplugged, or just unlocked. prevCharger and prevClosedLocked are the
// previously surfaced capability values.
func CarActive(status *vehicle.Status, prevCharger int, prevClosedLocked bool) bool {
	if status == nil {
		return false
	}
	if status.EngineOn || status.AirCtrlOn || status.Defrost {
		return true
	}
	justUnplugged := status.EV != nil && status.EV.PluggedIn == vehicle.PlugNone && prevCharger != ChargerUnplugged
	justUnlocked := !ClosedAndLocked(status) && prevClosedLocked
	return justUnplugged || justUnlocked
}

// TempFromCode decodes a backend temperature code such as "10H" into
// degrees Celsius: 14 °C base, 0.5 °C per hex step. Unparseable codes
// return the 22 °C default the commands fall back to.
func TempFromCode(code string) float64 {
	hex := strings.TrimSuffix(code, "H")
	if hex == code || hex == "" {
		return 22
	}
	idx, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 22
	}
	return 14 + float64(idx)*0.5
}
