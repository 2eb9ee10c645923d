package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Geofence GeofenceConfig `yaml:"geofence"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Cache    CacheConfig    `yaml:"cache"`
	Notifier NotifierConfig `yaml:"notifier"`
	Seed     SeedConfig     `yaml:"seed"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type GeofenceConfig struct {
	DwellTimeSeconds       int     `yaml:"dwell_time_seconds"`
	SpeedThresholdKmh      float64 `yaml:"speed_threshold_kmh"`
	MinTripDurationMinutes int     `yaml:"min_trip_duration_minutes"`
}

type IngestConfig struct {
	Workers      int `yaml:"workers"`
	MaxWorkers   int `yaml:"max_workers"`
	QueueSize    int `yaml:"queue_size"`
	MaxBatchSize int `yaml:"max_batch_size"`
}

type CacheConfig struct {
	GeofenceEntries      int `yaml:"geofence_entries"`
	VehicleDriverEntries int `yaml:"vehicle_driver_entries"`
	TTLMinutes           int `yaml:"ttl_minutes"`
}

type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Geofence: GeofenceConfig{
			DwellTimeSeconds:       30,
			SpeedThresholdKmh:      5.0,
			MinTripDurationMinutes: 0,
		},
		Ingest: IngestConfig{
			Workers:      10,
			MaxWorkers:   50,
			QueueSize:    500,
			MaxBatchSize: 100,
		},
		Cache: CacheConfig{
			GeofenceEntries:      20,
			VehicleDriverEntries: 50,
			TTLMinutes:           60,
		},
		Redis: RedisConfig{ChannelPrefix: "fleet:events:"},
	}
}

// Load reads a YAML config file on top of the defaults. DATABASE_URL,
// REDIS_ADDR and PORT env vars override the file so deployments can keep
// connection strings out of the repo.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	return cfg, nil
}
