package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carlink-backend/internal/device"
	"carlink-backend/internal/vehicle"
)

type vehicleSummary struct {
	VIN       string `json:"vin"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	EV        bool   `json:"ev"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	PollMode  string `json:"poll_mode"`
}

// GetVehicles lists the configured vehicles and their availability.
func (h *Handler) GetVehicles(c *gin.Context) {
	devices := h.manager.All()
	out := make([]vehicleSummary, 0, len(devices))
	for _, d := range devices {
		available, reason := d.Available()
		mode := "normal"
		if d.PollMode() == device.PollEngineOn {
			mode = "engine_on"
		}
		out = append(out, vehicleSummary{
			VIN:       d.VIN(),
			Name:      d.Name(),
			Brand:     d.Settings().Brand,
			EV:        d.IsEV(),
			Available: available,
			Reason:    reason,
			PollMode:  mode,
		})
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": out})
}

// GetVehicleStatus returns the full capability map plus the last snapshot
// timestamps for one vehicle.
func (h *Handler) GetVehicleStatus(c *gin.Context) {
	d := h.manager.Get(c.Param("vin"))
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	snap := d.Snapshot()
	available, reason := d.Available()
	resp := gin.H{
		"vin":          d.VIN(),
		"name":         d.Name(),
		"available":    available,
		"capabilities": d.Capabilities(),
	}
	if reason != "" {
		resp["reason"] = reason
	}
	if !snap.LastRefresh.IsZero() {
		resp["last_refresh"] = snap.LastRefresh
	}
	if !d.LastMoved().IsZero() {
		resp["last_moved"] = d.LastMoved()
	}
	if park := d.ParkLocation(); park != nil {
		resp["park_location"] = gin.H{"latitude": park.Latitude, "longitude": park.Longitude}
	}
	c.JSON(http.StatusOK, resp)
}

// GetVehicleHistory returns recent capability transitions, optionally
// filtered to one capability name.
func (h *Handler) GetVehicleHistory(c *gin.Context) {
	vin := c.Param("vin")
	if h.manager.Get(vin) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.store.CapabilityHistory(c.Request.Context(), vin, c.Query("name"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

// GetRemoteURL returns the (optionally shortened) remote-refresh webhook
// URL for a vehicle.
func (h *Handler) GetRemoteURL(c *gin.Context) {
	vin := c.Param("vin")
	if h.manager.Get(vin) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}
	u := h.manager.RemoteURL(c.Request.Context(), vin)
	if u == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "remote refresh is not configured for this vehicle"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

type commandRequest struct {
	Command     string   `json:"command" binding:"required"`
	Temperature *float64 `json:"temperature"`
	Targets     *struct {
		Slow int `json:"slow"`
		Fast int `json:"fast"`
	} `json:"targets"`
	Destination *struct {
		Name      string  `json:"name"`
		Address   string  `json:"address"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"destination"`
}

// PostCommand maps an API command onto the device queue. The command is
// accepted, not executed: the queue decides when it runs.
func (h *Handler) PostCommand(c *gin.Context) {
	d := h.manager.Get(c.Param("vin"))
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch req.Command {
	case "lock":
		err = d.LockDoors(true, "app")
	case "unlock":
		err = d.LockDoors(false, "app")
	case "climate_on":
		err = d.ClimateOnOff(true, "app")
	case "climate_off":
		err = d.ClimateOnOff(false, "app")
	case "defrost_on":
		err = d.DefrostOnOff(true, "app")
	case "defrost_off":
		err = d.DefrostOnOff(false, "app")
	case "charge_on":
		err = d.ChargingOnOff(true, "app")
	case "charge_off":
		err = d.ChargingOnOff(false, "app")
	case "set_target_temperature":
		if req.Temperature == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "temperature is required"})
			return
		}
		err = d.SetTargetTemp(*req.Temperature, "app")
	case "set_charge_targets":
		if req.Targets == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "targets is required"})
			return
		}
		err = d.SetChargeTargets(vehicle.ChargeTargets{Slow: req.Targets.Slow, Fast: req.Targets.Fast}, "app")
	case "set_destination":
		if req.Destination == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "destination is required"})
			return
		}
		err = d.SetDestination(vehicle.Waypoint{
			Name:      req.Destination.Name,
			Address:   req.Destination.Address,
			Latitude:  req.Destination.Latitude,
			Longitude: req.Destination.Longitude,
		}, "app")
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, device.ErrEngineOn) || errors.Is(err, device.ErrNotEV) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": req.Command})
}

type refreshRequest struct {
	Force bool `json:"force"`
}

// PostRefresh enqueues a status poll.
func (h *Handler) PostRefresh(c *gin.Context) {
	d := h.manager.Get(c.Param("vin"))
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.RefreshStatus(req.Force, "app")
	c.JSON(http.StatusAccepted, gin.H{"queued": "refresh"})
}

type linkRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PutLink flips the live-link switch and persists it.
func (h *Handler) PutLink(c *gin.Context) {
	d := h.manager.Get(c.Param("vin"))
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SetLinkEnabled(c.Request.Context(), d.VIN(), *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	d.SetLinkEnabled(*req.Enabled, "app")
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

type settingsRequest struct {
	Name                        *string  `json:"name"`
	PollIntervalMinutes         *int     `json:"poll_interval_minutes"`
	PollIntervalEngineOnMinutes *int     `json:"poll_interval_engine_on_minutes"`
	PollIntervalForcedMinutes   *int     `json:"poll_interval_forced_minutes"`
	BatteryAlarmLevel           *int     `json:"battery_alarm_level"`
	EVBatteryAlarmLevel         *int     `json:"ev_battery_alarm_level"`
	HomeLatitude                *float64 `json:"home_latitude"`
	HomeLongitude               *float64 `json:"home_longitude"`
}

// PutSettings replaces a vehicle's device settings. Absent fields keep
// their current value; the device restarts with the new snapshot.
func (h *Handler) PutSettings(c *gin.Context) {
	vin := c.Param("vin")
	d := h.manager.Get(vin)
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s := d.Settings()
	if req.Name != nil {
		s.Name = *req.Name
	}
	if req.PollIntervalMinutes != nil {
		s.PollInterval = time.Duration(*req.PollIntervalMinutes) * time.Minute
	}
	if req.PollIntervalEngineOnMinutes != nil {
		s.PollIntervalEngine = time.Duration(*req.PollIntervalEngineOnMinutes) * time.Minute
	}
	if req.PollIntervalForcedMinutes != nil {
		s.PollIntervalForced = time.Duration(*req.PollIntervalForcedMinutes) * time.Minute
	}
	if req.BatteryAlarmLevel != nil {
		s.BatteryAlarmLevel = *req.BatteryAlarmLevel
	}
	if req.EVBatteryAlarmLevel != nil {
		s.EVBatteryAlarmLevel = *req.EVBatteryAlarmLevel
	}
	if req.HomeLatitude != nil {
		s.HomeLatitude = *req.HomeLatitude
	}
	if req.HomeLongitude != nil {
		s.HomeLongitude = *req.HomeLongitude
	}

	if err := h.manager.ApplySettings(vin, s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": true})
}

// GetLive is the unauthenticated remote-refresh webhook: a valid secret
// forces a live poll. The response never reveals whether the secret
// matched a vehicle.
func (h *Handler) GetLive(c *gin.Context) {
	h.manager.RemoteRefresh(c.Query("secret"))
	c.String(http.StatusOK, "OK")
}
