package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Account    AccountConfig    `yaml:"account"`
	Vehicles   []VehicleConfig  `yaml:"vehicles"`
	Poll       PollConfig       `yaml:"poll"`
	Alarms     AlarmConfig      `yaml:"alarms"`
	Home       HomeConfig       `yaml:"home"`
	Remote     RemoteConfig     `yaml:"remote"`
	ABRP       ABRPConfig       `yaml:"abrp"`
	Directions DirectionsConfig `yaml:"directions"`
	Shortener  ShortenerConfig  `yaml:"shortener"`
	Geocode    GeocodeConfig    `yaml:"geocode"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
// A "postgres://" DSN selects the postgres driver; anything else is
// treated as a sqlite file path.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// AccountConfig holds the vehicle-account credentials and gateway endpoint.
type AccountConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Region         string `yaml:"region"`
	PIN            string `yaml:"pin"`
	GatewayURL     string `yaml:"gateway_url"`
	GatewayToken   string `yaml:"gateway_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// VehicleConfig identifies one car in the account.
type VehicleConfig struct {
	VIN   string `yaml:"vin"`
	Name  string `yaml:"name"`
	Brand string `yaml:"brand"` // "hyundai" or "kia"
}

// PollConfig holds the polling cadence, all in minutes.
// IntervalForcedMinutes of 0 disables the forced-interval policy.
type PollConfig struct {
	IntervalMinutes         int `yaml:"interval_minutes"`
	IntervalEngineOnMinutes int `yaml:"interval_engine_on_minutes"`
	IntervalForcedMinutes   int `yaml:"interval_forced_minutes"`
}

// AlarmConfig holds the battery alarm thresholds in percent.
type AlarmConfig struct {
	BatteryAlarmLevel   int `yaml:"battery_alarm_level"`
	EVBatteryAlarmLevel int `yaml:"ev_battery_alarm_level"`
}

// HomeConfig is the home coordinate used for distance and time-to-home.
type HomeConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// RemoteConfig configures the remote force-refresh webhook.
type RemoteConfig struct {
	Secret     string `yaml:"secret"`
	PublicURL  string `yaml:"public_url"`
	ShortenURL bool   `yaml:"shorten_url"`
}

// ABRPConfig configures the route-planner telemetry forwarder.
type ABRPConfig struct {
	APIKey    string `yaml:"api_key"`
	UserToken string `yaml:"user_token"`
}

// DirectionsConfig configures the directions collaborator.
type DirectionsConfig struct {
	APIKey string `yaml:"api_key"`
}

// ShortenerConfig configures the URL-shortener collaborator.
type ShortenerConfig struct {
	APIKey string `yaml:"api_key"`
}

// GeocodeConfig configures the reverse-geocoding collaborator.
type GeocodeConfig struct {
	Email string `yaml:"email"`
}

var secretSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-_*!~]`)

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Poll.IntervalMinutes <= 0 {
		cfg.Poll.IntervalMinutes = 10
	}
	if cfg.Poll.IntervalEngineOnMinutes < 0 {
		cfg.Poll.IntervalEngineOnMinutes = 0
	}
	if cfg.Alarms.BatteryAlarmLevel <= 0 {
		cfg.Alarms.BatteryAlarmLevel = 40
	}
	if cfg.Alarms.EVBatteryAlarmLevel <= 0 {
		cfg.Alarms.EVBatteryAlarmLevel = 20
	}
	if cfg.Account.TimeoutSeconds <= 0 {
		cfg.Account.TimeoutSeconds = 30
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "carlink.db"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}

	// keep the webhook secret URL-safe
	cfg.Remote.Secret = secretSanitizer.ReplaceAllString(cfg.Remote.Secret, "")

	for i, v := range cfg.Vehicles {
		if v.VIN == "" {
			return nil, fmt.Errorf("vehicles[%d]: vin is required", i)
		}
		if v.Brand == "" {
			cfg.Vehicles[i].Brand = "kia"
		}
	}

	return &cfg, nil
}

// Settings is the immutable per-device configuration snapshot handed to the
// polling core. It is rebuilt wholesale on a settings change, which triggers
// a controlled device restart.
type Settings struct {
	VIN                 string
	Name                string
	Brand               string
	PollInterval        time.Duration
	PollIntervalEngine  time.Duration
	PollIntervalForced  time.Duration
	BatteryAlarmLevel   int
	EVBatteryAlarmLevel int
	HomeLatitude        float64
	HomeLongitude       float64
	RemoteSecret        string
}

// DeviceSettings builds the settings snapshot for a configured vehicle.
func (c *Config) DeviceSettings(v VehicleConfig) Settings {
	return Settings{
		VIN:                 v.VIN,
		Name:                v.Name,
		Brand:               v.Brand,
		PollInterval:        time.Duration(c.Poll.IntervalMinutes) * time.Minute,
		PollIntervalEngine:  time.Duration(c.Poll.IntervalEngineOnMinutes) * time.Minute,
		PollIntervalForced:  time.Duration(c.Poll.IntervalForcedMinutes) * time.Minute,
		BatteryAlarmLevel:   c.Alarms.BatteryAlarmLevel,
		EVBatteryAlarmLevel: c.Alarms.EVBatteryAlarmLevel,
		HomeLatitude:        c.Home.Latitude,
		HomeLongitude:       c.Home.Longitude,
		RemoteSecret:        c.Remote.Secret,
	}
}
