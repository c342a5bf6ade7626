// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the telemetry relay.
type Config struct {
	Relay   RelayConfig    `yaml:"relay"`
	Uplinks []UplinkConfig `yaml:"uplinks"`
	API     APIConfig      `yaml:"api"`
	Health  HealthConfig   `yaml:"health"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Backup  BackupConfig   `yaml:"backup"`
	Log     LogConfig      `yaml:"log"`
}

// RelayConfig holds core relay settings.
type RelayConfig struct {
	// Interval between flush passes over the endpoint pool.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// UplinkConfig describes one real transmission endpoint.
type UplinkConfig struct {
	Name  string  `yaml:"name"`
	Type  string  `yaml:"type"` // http, mqtt, websocket, coap
	Score float64 `yaml:"score"`

	// http and websocket
	URL string `yaml:"url,omitempty"`

	// mqtt
	Broker   string `yaml:"broker,omitempty"`
	Topic    string `yaml:"topic,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`

	// coap
	Addr string `yaml:"addr,omitempty"`
	Path string `yaml:"path,omitempty"`

	Timeout time.Duration  `yaml:"timeout,omitempty"`
	Breaker *BreakerConfig `yaml:"breaker,omitempty"` // http only, overrides defaults
}

// BreakerConfig holds circuit breaker settings for HTTP uplinks.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// APIConfig holds record intake API settings.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	SubmitRate      float64       `yaml:"submit_rate"`  // submissions per second
	SubmitBurst     int           `yaml:"submit_burst"` // burst allowance
	MaxBatch        int           `yaml:"max_batch"`    // records per submission
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HealthConfig holds health check server settings.
type HealthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig holds OpenTelemetry settings. Metrics and traces share the
// OTLP endpoint and can be enabled independently.
type MetricsConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	Traces          bool    `yaml:"traces"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// BackupConfig holds save backup settings.
type BackupConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WatchFile  string        `yaml:"watch_file"`  // save file to back up
	Dir        string        `yaml:"dir"`         // where backups land
	CatalogDir string        `yaml:"catalog_dir"` // badger catalog location
	Retention  int           `yaml:"retention"`   // backups kept
	Debounce   time.Duration `yaml:"debounce"`    // quiet period after a change
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			FlushInterval: time.Second,
		},
		API: APIConfig{
			Enabled:         true,
			Addr:            ":8470",
			SubmitRate:      50,
			SubmitBurst:     20,
			MaxBatch:        500,
			ShutdownTimeout: 30 * time.Second,
		},
		Health: HealthConfig{
			Enabled:         true,
			Addr:            ":8471",
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			ServiceName:     "orbital-relay",
			ServiceVersion:  "0.1.0",
			Traces:          false,
			TraceSampleRate: 1.0,
		},
		Backup: BackupConfig{
			Enabled:    false,
			Dir:        "/var/lib/orbital/backups",
			CatalogDir: "/var/lib/orbital/catalog",
			Retention:  10,
			Debounce:   2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Relay.FlushInterval < time.Millisecond {
		return fmt.Errorf("relay.flush_interval must be at least 1ms")
	}

	names := make(map[string]bool, len(c.Uplinks))
	for i, up := range c.Uplinks {
		if up.Name == "" {
			return fmt.Errorf("uplinks[%d].name cannot be empty", i)
		}
		if names[up.Name] {
			return fmt.Errorf("uplinks[%d].name %q is duplicated", i, up.Name)
		}
		names[up.Name] = true

		if up.Score < 0 {
			return fmt.Errorf("uplinks[%d].score cannot be negative", i)
		}

		switch up.Type {
		case "http", "websocket":
			if up.URL == "" {
				return fmt.Errorf("uplinks[%d].url required for type %q", i, up.Type)
			}
		case "mqtt":
			if up.Broker == "" {
				return fmt.Errorf("uplinks[%d].broker required for type mqtt", i)
			}
			if up.Topic == "" {
				return fmt.Errorf("uplinks[%d].topic required for type mqtt", i)
			}
		case "coap":
			if up.Addr == "" {
				return fmt.Errorf("uplinks[%d].addr required for type coap", i)
			}
		default:
			return fmt.Errorf("uplinks[%d].type must be one of: http, mqtt, websocket, coap", i)
		}

		if up.Breaker != nil {
			if up.Breaker.FailureThreshold < 1 {
				return fmt.Errorf("uplinks[%d].breaker.failure_threshold must be at least 1", i)
			}
			if up.Breaker.ResetTimeout < time.Second {
				return fmt.Errorf("uplinks[%d].breaker.reset_timeout must be at least 1 second", i)
			}
		}
	}

	if c.API.Enabled {
		if c.API.Addr == "" {
			return fmt.Errorf("api.addr cannot be empty when api is enabled")
		}
		if c.API.SubmitRate <= 0 {
			return fmt.Errorf("api.submit_rate must be positive")
		}
		if c.API.SubmitBurst < 1 {
			return fmt.Errorf("api.submit_burst must be at least 1")
		}
		if c.API.MaxBatch < 1 {
			return fmt.Errorf("api.max_batch must be at least 1")
		}
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr cannot be empty when health is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Metrics.Enabled || c.Metrics.Traces {
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint cannot be empty when metrics or traces are enabled")
		}
		if c.Metrics.ServiceName == "" {
			return fmt.Errorf("metrics.service_name cannot be empty when metrics or traces are enabled")
		}
	}
	if c.Metrics.Traces {
		if c.Metrics.TraceSampleRate < 0 || c.Metrics.TraceSampleRate > 1 {
			return fmt.Errorf("metrics.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Backup.Enabled {
		if c.Backup.WatchFile == "" {
			return fmt.Errorf("backup.watch_file required when backup is enabled")
		}
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup.dir required when backup is enabled")
		}
		if c.Backup.CatalogDir == "" {
			return fmt.Errorf("backup.catalog_dir required when backup is enabled")
		}
		if c.Backup.Retention < 1 {
			return fmt.Errorf("backup.retention must be at least 1")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
