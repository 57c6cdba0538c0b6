// Package config loads the tunables of the planner, the tracking pipeline and
// the API process. Values come from defaults, an optional YAML file, and
// environment variables (in increasing priority), then get validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every core parameter.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Routing  RoutingConfig  `yaml:"routing"`
	Tracking TrackingConfig `yaml:"tracking"`
	NATS     NATSConfig     `yaml:"nats"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ServerConfig covers the HTTP process.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	LogLevel        string        `yaml:"logLevel" validate:"oneof=debug info warn warning error"`
	StoreBackend    string        `yaml:"storeBackend" validate:"oneof=postgres memory"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
}

// RoutingConfig parameterises graph building and itinerary planning.
type RoutingConfig struct {
	BusSpeedKPH         float64 `yaml:"busSpeedKph" validate:"gt=0"`
	MinEdgeCostSeconds  float64 `yaml:"minEdgeCostSeconds" validate:"gt=0"`
	TransferPenaltySecs float64 `yaml:"transferPenaltySeconds" validate:"gte=0"`
	MaxStopRadiusMeters float64 `yaml:"maxStopRadiusMeters" validate:"gt=0"`
}

// TrackingConfig parameterises the proximity evaluator and the aggregator loop.
type TrackingConfig struct {
	StopProximityMeters float64       `yaml:"stopProximityMeters" validate:"gt=0"`
	BusProximityMeters  float64       `yaml:"busProximityMeters" validate:"gt=0"`
	AggregationInterval time.Duration `yaml:"aggregationInterval" validate:"gt=0"`
	SeedOnStopDeparture bool          `yaml:"seedOnStopDeparture"`
}

// NATSConfig enables publishing virtual bus snapshots. Empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subjectPrefix" validate:"required"`
}

// LimitsConfig bounds location update traffic per user.
type LimitsConfig struct {
	LocationUpdatesPerSecond int `yaml:"locationUpdatesPerSecond" validate:"gte=0"`
	LocationUpdateBurst      int `yaml:"locationUpdateBurst" validate:"gte=0"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			StoreBackend:    "postgres",
			ShutdownTimeout: 30 * time.Second,
		},
		Routing: RoutingConfig{
			BusSpeedKPH:         20,
			MinEdgeCostSeconds:  1,
			TransferPenaltySecs: 15 * 60,
			MaxStopRadiusMeters: 300,
		},
		Tracking: TrackingConfig{
			StopProximityMeters: 50,
			BusProximityMeters:  100,
			AggregationInterval: 30 * time.Second,
			SeedOnStopDeparture: true,
		},
		NATS: NATSConfig{
			SubjectPrefix: "buses",
		},
		Limits: LimitsConfig{
			LocationUpdatesPerSecond: 2,
			LocationUpdateBurst:      5,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	setIntFromEnv(&cfg.Server.Port, "API_PORT", &errs)
	setStringFromEnv(&cfg.Server.LogLevel, "LOG_LEVEL")
	setStringFromEnv(&cfg.Server.StoreBackend, "STORE_BACKEND")
	setDurationFromEnv(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	setFloatFromEnv(&cfg.Routing.BusSpeedKPH, "BUS_SPEED_KPH", &errs)
	setFloatFromEnv(&cfg.Routing.MinEdgeCostSeconds, "MIN_EDGE_COST_SECONDS", &errs)
	setFloatFromEnv(&cfg.Routing.TransferPenaltySecs, "TRANSFER_PENALTY_SECONDS", &errs)
	setFloatFromEnv(&cfg.Routing.MaxStopRadiusMeters, "MAX_STOP_RADIUS_METERS", &errs)

	setFloatFromEnv(&cfg.Tracking.StopProximityMeters, "PROXIMITY_STOP_METERS", &errs)
	setFloatFromEnv(&cfg.Tracking.BusProximityMeters, "PROXIMITY_BUS_METERS", &errs)
	setDurationFromEnv(&cfg.Tracking.AggregationInterval, "AGGREGATION_INTERVAL", &errs)
	setBoolFromEnv(&cfg.Tracking.SeedOnStopDeparture, "SEED_ON_STOP_DEPARTURE", &errs)

	setStringFromEnv(&cfg.NATS.URL, "NATS_URL")
	setStringFromEnv(&cfg.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")

	setIntFromEnv(&cfg.Limits.LocationUpdatesPerSecond, "LOCATION_UPDATES_PER_SECOND", &errs)
	setIntFromEnv(&cfg.Limits.LocationUpdateBurst, "LOCATION_UPDATE_BURST", &errs)

	return errors.Join(errs...)
}

func setStringFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setIntFromEnv(dst *int, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return
	}
	*dst = n
}

func setFloatFromEnv(dst *float64, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return
	}
	*dst = f
}

func setDurationFromEnv(dst *time.Duration, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return
	}
	*dst = d
}

func setBoolFromEnv(dst *bool, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return
	}
	*dst = b
}
