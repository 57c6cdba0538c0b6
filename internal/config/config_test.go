package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 20.0, cfg.Routing.BusSpeedKPH)
	assert.Equal(t, 900.0, cfg.Routing.TransferPenaltySecs)
	assert.Equal(t, 300.0, cfg.Routing.MaxStopRadiusMeters)
	assert.Equal(t, 50.0, cfg.Tracking.StopProximityMeters)
	assert.Equal(t, 100.0, cfg.Tracking.BusProximityMeters)
	assert.Equal(t, 30*time.Second, cfg.Tracking.AggregationInterval)
}

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
server:
  port: 9090
  storeBackend: memory
routing:
  busSpeedKph: 25
tracking:
  aggregationInterval: 10s
nats:
  url: nats://127.0.0.1:4222
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PROXIMITY_BUS_METERS", "120")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Server.StoreBackend)
	assert.Equal(t, 25.0, cfg.Routing.BusSpeedKPH)
	assert.Equal(t, 10*time.Second, cfg.Tracking.AggregationInterval)
	assert.Equal(t, 120.0, cfg.Tracking.BusProximityMeters)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	// untouched sections keep defaults
	assert.Equal(t, 900.0, cfg.Routing.TransferPenaltySecs)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unparseable float", "BUS_SPEED_KPH", "fast"},
		{"non-positive speed", "BUS_SPEED_KPH", "0"},
		{"bad duration", "AGGREGATION_INTERVAL", "soon"},
		{"unknown backend", "STORE_BACKEND", "sqlite"},
		{"bad bool", "SEED_ON_STOP_DEPARTURE", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
