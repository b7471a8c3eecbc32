// Package config provides the configuration schema for the MCP gateway.
//
// Configuration is file-based (mcp-gateway.yaml) with environment variable
// overrides. The schema is intentionally small: listener, storage root,
// management token, health probe cadence, capture pipeline tuning, and
// opt-in tracing. Upstream servers are NOT configured here; they are
// registered at runtime through the management API and persisted in the
// gateway's database.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage configures the on-disk state root.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// API configures the management REST surface.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Health configures the upstream probe scheduler.
	Health HealthConfig `yaml:"health" mapstructure:"health"`

	// Capture configures the asynchronous capture pipeline.
	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`

	// Tracing configures the opt-in OpenTelemetry stdout exporter.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// ServerConfig configures the single HTTP listener that serves proxy
// traffic, the management API, health, and metrics.
type ServerConfig struct {
	// Port is the TCP port to listen on. Default: 3333.
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// StorageConfig configures where the gateway keeps durable state.
type StorageConfig struct {
	// Dir holds the SQLite database, the gateway lock file, and any
	// legacy JSONL shards. Default: ~/.mcp-gateway/captures.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`
}

// APIConfig configures the management REST surface.
type APIConfig struct {
	// Token is the management bearer token: plaintext, sha256:<hex>, or
	// an Argon2id PHC string. When empty, serve generates a token and
	// prints it once at startup.
	Token string `yaml:"token" mapstructure:"token"`
}

// HealthConfig configures the background probe scheduler.
type HealthConfig struct {
	// Interval between probe sweeps, e.g. "30s". Default: 30s.
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`

	// ProbeTimeout bounds one probe request, e.g. "5s". Default: 5s.
	ProbeTimeout string `yaml:"probe_timeout" mapstructure:"probe_timeout" validate:"omitempty,duration"`
}

// CaptureConfig tunes the asynchronous capture pipeline.
type CaptureConfig struct {
	// ChannelSize is the bounded queue between the proxy hot path and
	// the storage worker. Default: 1024.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"min=1"`

	// DrainGrace bounds how long shutdown waits for queued records to
	// reach storage, e.g. "5s". Default: 5s.
	DrainGrace string `yaml:"drain_grace" mapstructure:"drain_grace" validate:"omitempty,duration"`

	// Exclude is an optional CEL expression over server, method, and
	// direction. Records it evaluates true for are not stored. Example:
	// `method == "ping"`. Empty disables filtering.
	Exclude string `yaml:"exclude" mapstructure:"exclude"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns on the batched stdout trace exporter. Default: false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies defaults to unset fields. Explicit values are never
// overwritten.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3333
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultStorageDir()
	}
	if c.Health.Interval == "" {
		c.Health.Interval = "30s"
	}
	if c.Health.ProbeTimeout == "" {
		c.Health.ProbeTimeout = "5s"
	}
	if c.Capture.ChannelSize == 0 {
		c.Capture.ChannelSize = 1024
	}
	if c.Capture.DrainGrace == "" {
		c.Capture.DrainGrace = "5s"
	}
}

// DefaultStorageDir returns ~/.mcp-gateway/captures, falling back to a
// relative directory when the home directory cannot be resolved.
func DefaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mcp-gateway", "captures")
	}
	return filepath.Join(home, ".mcp-gateway", "captures")
}

// SlogLevel maps the configured log level onto slog. Validate guarantees
// the value is one of the accepted names.
func (c *Config) SlogLevel() slog.Level {
	switch c.Server.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HealthInterval returns the parsed probe sweep interval.
func (c *Config) HealthInterval() time.Duration {
	return parseDuration(c.Health.Interval, 30*time.Second)
}

// ProbeTimeout returns the parsed per-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return parseDuration(c.Health.ProbeTimeout, 5*time.Second)
}

// DrainGrace returns the parsed capture drain bound.
func (c *Config) DrainGrace() time.Duration {
	return parseDuration(c.Capture.DrainGrace, 5*time.Second)
}

// parseDuration parses s, returning fallback for empty or invalid values.
// Validate rejects invalid durations up front, so the fallback only covers
// configs built in code.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
