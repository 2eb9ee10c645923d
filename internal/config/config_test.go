package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30, cfg.Geofence.DwellTimeSeconds)
	assert.Equal(t, 5.0, cfg.Geofence.SpeedThresholdKmh)
	assert.Equal(t, 0, cfg.Geofence.MinTripDurationMinutes)
	assert.Equal(t, 100, cfg.Ingest.MaxBatchSize)
	assert.Equal(t, 10, cfg.Ingest.Workers)
	assert.Equal(t, 50, cfg.Ingest.MaxWorkers)
	assert.Equal(t, 500, cfg.Ingest.QueueSize)
	assert.Equal(t, 20, cfg.Cache.GeofenceEntries)
	assert.Equal(t, 50, cfg.Cache.VehicleDriverEntries)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: "9090"
geofence:
  dwell_time_seconds: 45
  speed_threshold_kmh: 8.5
ingest:
  max_batch_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 45, cfg.Geofence.DwellTimeSeconds)
	assert.Equal(t, 8.5, cfg.Geofence.SpeedThresholdKmh)
	assert.Equal(t, 25, cfg.Ingest.MaxBatchSize)
	// Untouched sections keep defaults.
	assert.Equal(t, 500, cfg.Ingest.QueueSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "redis.env:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis.env:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
