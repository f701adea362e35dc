package bluelink

import (
	"fmt"

	"carlink-backend/internal/vehicle"
)

// rawStatus mirrors the backend status payload. Door and lamp flags arrive
// as 0/1 integers, sub-records are omitted per vehicle family.
type rawStatus struct {
	AirCtrlOn bool `json:"airCtrlOn"`
	Engine    bool `json:"engine"`
	DoorLock  bool `json:"doorLock"`
	DoorOpen  struct {
		FrontLeft  int `json:"frontLeft"`
		FrontRight int `json:"frontRight"`
		BackLeft   int `json:"backLeft"`
		BackRight  int `json:"backRight"`
	} `json:"doorOpen"`
	TrunkOpen bool `json:"trunkOpen"`
	HoodOpen  bool `json:"hoodOpen"`
	AirTemp   struct {
		Value string `json:"value"`
		Unit  int    `json:"unit"`
	} `json:"airTemp"`
	Defrost          bool `json:"defrost"`
	TirePressureLamp struct {
		All        int `json:"tirePressureLampAll"`
		FrontLeft  int `json:"tirePressureLampFL"`
		FrontRight int `json:"tirePressureLampFR"`
		RearLeft   int `json:"tirePressureLampRL"`
		RearRight  int `json:"tirePressureLampRR"`
	} `json:"tirePressureLamp"`
	Battery *struct {
		BatSoc int `json:"batSoc"`
	} `json:"battery"`
	EVStatus *struct {
		BatteryCharge bool `json:"batteryCharge"`
		BatteryStatus int  `json:"batteryStatus"`
		BatteryPlugin int  `json:"batteryPlugin"`
		DrvDistance   []struct {
			RangeByFuel struct {
				TotalAvailableRange struct {
					Value float64 `json:"value"`
				} `json:"totalAvailableRange"`
			} `json:"rangeByFuel"`
		} `json:"drvDistance"`
	} `json:"evStatus"`
	DTE *struct {
		Value float64 `json:"value"`
	} `json:"dte"`
	Time string `json:"time"`
}

// normalize folds the family differences into the contract type. The range
// comes from the EV sub-record when present, from dte otherwise, and stays
// nil when the family reports neither (a known payload gap, not an error).
func (r *rawStatus) normalize() *vehicle.Status {
	s := &vehicle.Status{
		EngineOn:  r.Engine,
		DoorLock:  r.DoorLock,
		TrunkOpen: r.TrunkOpen,
		HoodOpen:  r.HoodOpen,
		AirCtrlOn: r.AirCtrlOn,
		Defrost:   r.Defrost,
		DoorOpen: vehicle.Doors{
			FrontLeft:  r.DoorOpen.FrontLeft != 0,
			FrontRight: r.DoorOpen.FrontRight != 0,
			BackLeft:   r.DoorOpen.BackLeft != 0,
			BackRight:  r.DoorOpen.BackRight != 0,
		},
		AirTempCode: r.AirTemp.Value,
		TirePressure: vehicle.TirePressureLamps{
			All:        r.TirePressureLamp.All != 0,
			FrontLeft:  r.TirePressureLamp.FrontLeft != 0,
			FrontRight: r.TirePressureLamp.FrontRight != 0,
			RearLeft:   r.TirePressureLamp.RearLeft != 0,
			RearRight:  r.TirePressureLamp.RearRight != 0,
		},
		ServerTime: r.Time,
	}
	if r.Battery != nil {
		s.Battery = &vehicle.Battery{SoC: r.Battery.BatSoc}
	}
	if r.EVStatus != nil {
		s.EV = &vehicle.EVStatus{
			Charging:  r.EVStatus.BatteryCharge,
			PluggedIn: validPlug(r.EVStatus.BatteryPlugin),
			SoC:       r.EVStatus.BatteryStatus,
		}
		if len(r.EVStatus.DrvDistance) > 0 {
			rangeKm := r.EVStatus.DrvDistance[0].RangeByFuel.TotalAvailableRange.Value
			s.RangeKm = &rangeKm
		}
	}
	if s.RangeKm == nil && r.DTE != nil {
		rangeKm := r.DTE.Value
		s.RangeKm = &rangeKm
	}
	return s
}

type rawLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     struct {
		Value float64 `json:"value"`
		Unit  int     `json:"unit"`
	} `json:"speed"`
	Heading float64 `json:"heading"`
}

func (r *rawLocation) normalize() *vehicle.Location {
	return &vehicle.Location{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Altitude:  r.Altitude,
		Speed:     r.Speed.Value,
		Heading:   r.Heading,
	}
}

type rawValue struct {
	Value float64 `json:"value"`
	Unit  int     `json:"unit"`
}

// codeFromTemp encodes a setpoint as the backend's hex temperature code:
// 14 °C is "00H", each step is 0.5 °C.
func codeFromTemp(temp float64) string {
	if temp < 14 {
		temp = 14
	}
	if temp > 30 {
		temp = 30
	}
	return fmt.Sprintf("%02XH", int((temp-14)*2))
}
