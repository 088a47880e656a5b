// Package config loads the daemon configuration from a YAML file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "feedsync/pkg/config"
)

const configPathEnv = "FEEDSYNC_CONFIG"

// Config holds all daemon settings.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Store     StoreConfig     `yaml:"store"`
	Sync      SyncConfig      `yaml:"sync"`
	Network   NetworkConfig   `yaml:"network"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Status    StatusConfig    `yaml:"status"`
}

// EndpointConfig describes the remote sync endpoint.
type EndpointConfig struct {
	BaseURL string `yaml:"baseUrl"`
	// Token is usually injected via FEEDSYNC_TOKEN rather than the file.
	Token string `yaml:"token"`
}

// StoreConfig describes the local article database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig tunes the coordinator and pipeline.
type SyncConfig struct {
	ManualThrottle  time.Duration `yaml:"manualThrottle"`
	ExchangeTimeout time.Duration `yaml:"exchangeTimeout"`
	ItemTimeout     time.Duration `yaml:"itemTimeout"`
	SeenLookback    time.Duration `yaml:"seenLookback"`
	Parallelism     int           `yaml:"parallelism"`
}

// NetworkConfig carries the user's connectivity preference.
type NetworkConfig struct {
	AllowCellular bool `yaml:"allowCellular"`
}

// SchedulerConfig tunes the background task policy.
type SchedulerConfig struct {
	BaseInterval         time.Duration `yaml:"baseInterval"`
	RecentActivityWindow time.Duration `yaml:"recentActivityWindow"`
	PendingShortInterval time.Duration `yaml:"pendingShortInterval"`
	PendingThreshold     int           `yaml:"pendingThreshold"`
	MaintenanceAfter     time.Duration `yaml:"maintenanceAfter"`
	BatchWindow          time.Duration `yaml:"batchWindow"`
	TaskBudget           time.Duration `yaml:"taskBudget"`
	RequirePower         bool          `yaml:"requirePower"`
}

// StatusConfig describes the local status/metrics HTTP server.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// Default returns production defaults matching the sync core's contracts:
// 30s manual throttle, 60s exchange ceiling, 30s per-item fetch, 10s
// background batch window, 24h seen lookback.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "feedsync.db"},
		Sync: SyncConfig{
			ManualThrottle:  30 * time.Second,
			ExchangeTimeout: 60 * time.Second,
			ItemTimeout:     30 * time.Second,
			SeenLookback:    24 * time.Hour,
			Parallelism:     4,
		},
		Network: NetworkConfig{AllowCellular: false},
		Scheduler: SchedulerConfig{
			BaseInterval:         15 * time.Minute,
			RecentActivityWindow: 30 * time.Minute,
			PendingShortInterval: 5 * time.Minute,
			PendingThreshold:     5,
			MaintenanceAfter:     24 * time.Hour,
			BatchWindow:          10 * time.Second,
			TaskBudget:           30 * time.Second,
			RequirePower:         true,
		},
		Status: StatusConfig{Port: 9091},
	}
}

// Load reads the config file named by FEEDSYNC_CONFIG (or path when given),
// layers environment overrides on top, validates, and returns the result.
// A missing file is not an error: defaults plus env overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- path is operator-provided.
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Endpoint.BaseURL = pkgconfig.GetEnvString("FEEDSYNC_ENDPOINT", cfg.Endpoint.BaseURL)
	cfg.Endpoint.Token = pkgconfig.GetEnvString("FEEDSYNC_TOKEN", cfg.Endpoint.Token)
	cfg.Store.Path = pkgconfig.GetEnvString("FEEDSYNC_DB", cfg.Store.Path)
	cfg.Network.AllowCellular = pkgconfig.GetEnvBool("FEEDSYNC_ALLOW_CELLULAR", cfg.Network.AllowCellular)
	cfg.Sync.ManualThrottle = pkgconfig.GetEnvDuration("FEEDSYNC_MANUAL_THROTTLE", cfg.Sync.ManualThrottle)
	cfg.Sync.ItemTimeout = pkgconfig.GetEnvDuration("FEEDSYNC_ITEM_TIMEOUT", cfg.Sync.ItemTimeout)
	cfg.Sync.Parallelism = pkgconfig.GetEnvInt("FEEDSYNC_PARALLELISM", cfg.Sync.Parallelism)
	cfg.Status.Port = pkgconfig.GetEnvInt("FEEDSYNC_STATUS_PORT", cfg.Status.Port)
}

// Validate checks the configuration, collecting every violation into one
// aggregated error.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint.BaseURL == "" {
		errs = append(errs, errors.New("endpoint base URL is required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}
	if c.Sync.ManualThrottle <= 0 {
		errs = append(errs, errors.New("manual throttle must be positive"))
	}
	if c.Sync.ExchangeTimeout <= 0 {
		errs = append(errs, errors.New("exchange timeout must be positive"))
	}
	if c.Sync.ItemTimeout <= 0 {
		errs = append(errs, errors.New("item timeout must be positive"))
	}
	if c.Sync.Parallelism < 1 || c.Sync.Parallelism > 64 {
		errs = append(errs, errors.New("parallelism must be between 1 and 64"))
	}
	if c.Scheduler.BatchWindow <= 0 {
		errs = append(errs, errors.New("batch window must be positive"))
	}
	if c.Status.Port < 1024 || c.Status.Port > 65535 {
		errs = append(errs, errors.New("status port must be between 1024 and 65535"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
