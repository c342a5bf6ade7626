// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

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
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Relay.FlushInterval)
	assert.True(t, cfg.API.Enabled)
	assert.False(t, cfg.Backup.Enabled)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	raw := `
relay:
  flush_interval: 250ms
uplinks:
  - name: ground-http
    type: http
    score: 2
    url: http://collector.local/records
  - name: ground-mqtt
    type: mqtt
    score: 5
    broker: tcp://localhost:1883
    topic: relay/records
log:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Relay.FlushInterval)
	require.Len(t, cfg.Uplinks, 2)
	assert.Equal(t, "ground-http", cfg.Uplinks[0].Name)
	assert.Equal(t, 2.0, cfg.Uplinks[0].Score)
	assert.Equal(t, "relay/records", cfg.Uplinks[1].Topic)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":8471", cfg.Health.Addr)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero flush interval", func(c *Config) { c.Relay.FlushInterval = 0 }},
		{"unnamed uplink", func(c *Config) {
			c.Uplinks = []UplinkConfig{{Type: "http", URL: "http://x"}}
		}},
		{"duplicate uplink name", func(c *Config) {
			c.Uplinks = []UplinkConfig{
				{Name: "a", Type: "http", URL: "http://x"},
				{Name: "a", Type: "http", URL: "http://y"},
			}
		}},
		{"unknown uplink type", func(c *Config) {
			c.Uplinks = []UplinkConfig{{Name: "a", Type: "carrier-pigeon"}}
		}},
		{"http uplink without url", func(c *Config) {
			c.Uplinks = []UplinkConfig{{Name: "a", Type: "http"}}
		}},
		{"mqtt uplink without topic", func(c *Config) {
			c.Uplinks = []UplinkConfig{{Name: "a", Type: "mqtt", Broker: "tcp://x"}}
		}},
		{"coap uplink without addr", func(c *Config) {
			c.Uplinks = []UplinkConfig{{Name: "a", Type: "coap"}}
		}},
		{"negative score", func(c *Config) {
			c.Uplinks = []UplinkConfig{{Name: "a", Type: "http", URL: "http://x", Score: -1}}
		}},
		{"bad breaker threshold", func(c *Config) {
			c.Uplinks = []UplinkConfig{{
				Name: "a", Type: "http", URL: "http://x",
				Breaker: &BreakerConfig{FailureThreshold: 0, ResetTimeout: time.Minute},
			}}
		}},
		{"api without addr", func(c *Config) { c.API.Addr = "" }},
		{"zero submit rate", func(c *Config) { c.API.SubmitRate = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"metrics without endpoint", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Endpoint = ""
		}},
		{"traces without endpoint", func(c *Config) {
			c.Metrics.Traces = true
			c.Metrics.Endpoint = ""
		}},
		{"trace sample rate above one", func(c *Config) {
			c.Metrics.Traces = true
			c.Metrics.TraceSampleRate = 1.5
		}},
		{"negative trace sample rate", func(c *Config) {
			c.Metrics.Traces = true
			c.Metrics.TraceSampleRate = -0.1
		}},
		{"backup without watch file", func(c *Config) { c.Backup.Enabled = true }},
		{"backup zero retention", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.WatchFile = "/tmp/save.sfs"
			c.Backup.Retention = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Uplinks = []UplinkConfig{{Name: "a", Type: "http", URL: "http://x", Score: 3}}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
