// Package config loads docsyncd's configuration from the environment,
// optionally seeded from a .env file, grounded on the teacher's
// ws/config.go loader shape.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every field spec.md §4.7 names plus the ambient
// additions SPEC_FULL.md §9 lists.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr    string `env:"DOCSYNC_ADDR" envDefault:":8080"`
	CycleMs int    `env:"DOCSYNC_CYCLE_MS" envDefault:"100"`

	// Capability toggles (spec.md §4.7)
	AllowSave        bool `env:"DOCSYNC_ALLOW_SAVE" envDefault:"true"`
	AllowSync        bool `env:"DOCSYNC_ALLOW_SYNC" envDefault:"true"`
	AllowWebRTC      bool `env:"DOCSYNC_ALLOW_WEBRTC" envDefault:"false"`
	AllowFastPatch   bool `env:"DOCSYNC_ALLOW_FAST_PATCH" envDefault:"true"`
	AllowCompression bool `env:"DOCSYNC_ALLOW_COMPRESSION" envDefault:"true"`
	SimulateLatencyMs int `env:"DOCSYNC_SIMULATE_LATENCY_MS" envDefault:"0"`

	HeartbeatMs          int `env:"DOCSYNC_HEARTBEAT_MS" envDefault:"15000"`
	SaveMinIntervalMs    int `env:"DOCSYNC_SAVE_MIN_INTERVAL_MS" envDefault:"2000"`
	SendQueueCapacity    int `env:"DOCSYNC_SEND_QUEUE_CAPACITY" envDefault:"256"`
	MaxInflightDocuments int `env:"DOCSYNC_MAX_INFLIGHT_DOCUMENTS" envDefault:"10000"`

	// Persistence
	BoltPath string `env:"DOCSYNC_BOLT_PATH" envDefault:""`

	// Auth
	JWTSecret   string `env:"DOCSYNC_JWT_SECRET" envDefault:""`
	RequireAuth bool   `env:"DOCSYNC_REQUIRE_AUTH" envDefault:"false"`

	// Logging
	LogLevel  string `env:"DOCSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DOCSYNC_LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsAddr string `env:"DOCSYNC_METRICS_ADDR" envDefault:":8080"`

	// Event bus
	NATSURL string `env:"DOCSYNC_NATS_URL" envDefault:""`

	// Admission control
	ConnRateLimitPerSecond float64 `env:"DOCSYNC_CONN_RATE_LIMIT_PER_SECOND" envDefault:"50"`
	ConnRateLimitBurst     int     `env:"DOCSYNC_CONN_RATE_LIMIT_BURST" envDefault:"100"`
}

// Load reads configuration from .env (optional) and the environment.
// Priority: environment variables > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("DOCSYNC_ADDR is required")
	}
	if c.CycleMs <= 0 {
		return fmt.Errorf("DOCSYNC_CYCLE_MS must be > 0, got %d", c.CycleMs)
	}
	if c.HeartbeatMs <= 0 {
		return fmt.Errorf("DOCSYNC_HEARTBEAT_MS must be > 0, got %d", c.HeartbeatMs)
	}
	if c.SendQueueCapacity <= 0 {
		return fmt.Errorf("DOCSYNC_SEND_QUEUE_CAPACITY must be > 0, got %d", c.SendQueueCapacity)
	}
	if c.MaxInflightDocuments <= 0 {
		return fmt.Errorf("DOCSYNC_MAX_INFLIGHT_DOCUMENTS must be > 0, got %d", c.MaxInflightDocuments)
	}
	if c.RequireAuth && c.JWTSecret == "" {
		return fmt.Errorf("DOCSYNC_JWT_SECRET is required when DOCSYNC_REQUIRE_AUTH is true")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("DOCSYNC_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("DOCSYNC_LOG_FORMAT must be one of json, console (got %q)", c.LogFormat)
	}
	if c.ConnRateLimitPerSecond <= 0 {
		return fmt.Errorf("DOCSYNC_CONN_RATE_LIMIT_PER_SECOND must be > 0, got %.2f", c.ConnRateLimitPerSecond)
	}
	if c.ConnRateLimitBurst <= 0 {
		return fmt.Errorf("DOCSYNC_CONN_RATE_LIMIT_BURST must be > 0, got %d", c.ConnRateLimitBurst)
	}
	return nil
}

// LogFields logs the loaded configuration at Info level, structured.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Int("cycle_ms", c.CycleMs).
		Bool("allow_save", c.AllowSave).
		Bool("allow_sync", c.AllowSync).
		Bool("allow_webrtc", c.AllowWebRTC).
		Bool("allow_fast_patch", c.AllowFastPatch).
		Bool("allow_compression", c.AllowCompression).
		Int("heartbeat_ms", c.HeartbeatMs).
		Int("save_min_interval_ms", c.SaveMinIntervalMs).
		Int("send_queue_capacity", c.SendQueueCapacity).
		Int("max_inflight_documents", c.MaxInflightDocuments).
		Str("bolt_path", c.BoltPath).
		Bool("require_auth", c.RequireAuth).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Str("nats_url", c.NATSURL).
		Msg("configuration loaded")
}
