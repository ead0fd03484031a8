// Package config loads the server's runtime configuration from the
// environment, adapted from the teacher's ws/config.go: ENV vars override
// an optional .env file, which overrides the struct tag defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Endpoint
	ListenAddr     string        `env:"NEUTRONIUM_ADDR" envDefault:":7777"`
	MaxConnections int           `env:"NEUTRONIUM_MAX_CONNECTIONS" envDefault:"2000"`
	ChannelBuffer  int           `env:"NEUTRONIUM_CHANNEL_BUFFER" envDefault:"65536"`
	ChannelTimeout time.Duration `env:"NEUTRONIUM_CHANNEL_TIMEOUT" envDefault:"15s"`

	// Protocol identity. ProtocolVersion is free-form text (e.g. a semver or
	// build tag), truncated/zero-padded to the wire's fixed 16-byte Version
	// field — a connection token presenting a different value is fatally
	// rejected during handshake (§4.7/§6).
	ProtocolID      uint16 `env:"NEUTRONIUM_PROTOCOL_ID" envDefault:"2645"` // 0x0A55
	ProtocolVersion string `env:"NEUTRONIUM_PROTOCOL_VERSION" envDefault:"neutronium-v1"`

	// ServerKeyBase64 is the endpoint's 32-byte token-sealing key, standard
	// base64-encoded. Empty means none configured; the caller must either
	// set it or generate an ephemeral key (fine for a single dev process,
	// useless across a restart or a fleet).
	ServerKeyBase64 string `env:"NEUTRONIUM_SERVER_KEY"`

	// World
	TickRate time.Duration `env:"NEUTRONIUM_TICK_RATE" envDefault:"16.67ms"`

	// Resource limits (from container)
	CPULimit    float64 `env:"NEUTRONIUM_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"NEUTRONIUM_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Rate limiting
	MaxAcceptRate  float64 `env:"NEUTRONIUM_MAX_ACCEPT_RATE" envDefault:"200"`
	MaxAcceptBurst int     `env:"NEUTRONIUM_MAX_ACCEPT_BURST" envDefault:"64"`

	// CPU safety thresholds (container-aware, see platform.Monitor.CPUPercent)
	CPURejectThreshold float64 `env:"NEUTRONIUM_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"NEUTRONIUM_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Monitoring
	MetricsAddr     string        `env:"NEUTRONIUM_METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"NEUTRONIUM_METRICS_INTERVAL" envDefault:"15s"`

	// Messaging bridge
	NATSUrl     string `env:"NEUTRONIUM_NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject string `env:"NEUTRONIUM_NATS_SUBJECT" envDefault:"neutronium.events"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: ENV vars > .env file > struct tag defaults.
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

// Validate checks configuration for internally inconsistent or out-of-range
// values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("NEUTRONIUM_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("NEUTRONIUM_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.ChannelBuffer <= 0 || c.ChannelBuffer%(64*1024) != 0 {
		return fmt.Errorf("NEUTRONIUM_CHANNEL_BUFFER must be a positive multiple of 65536, got %d", c.ChannelBuffer)
	}
	if len(c.ProtocolVersion) > 16 {
		return fmt.Errorf("NEUTRONIUM_PROTOCOL_VERSION must be at most 16 bytes, got %d", len(c.ProtocolVersion))
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("NEUTRONIUM_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("NEUTRONIUM_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("NEUTRONIUM_CPU_PAUSE_THRESHOLD (%.1f) must be >= NEUTRONIUM_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// Version encodes ProtocolVersion into the wire's fixed 16-byte field.
func (c *Config) Version() [16]byte {
	var v [16]byte
	copy(v[:], c.ProtocolVersion)
	return v
}

// LogFields logs the loaded configuration via structured logging.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("listen_addr", c.ListenAddr).
		Int("max_connections", c.MaxConnections).
		Int("channel_buffer", c.ChannelBuffer).
		Dur("channel_timeout", c.ChannelTimeout).
		Uint64("protocol_id", uint64(c.ProtocolID)).
		Str("protocol_version", c.ProtocolVersion).
		Dur("tick_rate", c.TickRate).
		Float64("cpu_limit", c.CPULimit).
		Int64("memory_limit_mb", c.MemoryLimit/(1024*1024)).
		Float64("max_accept_rate", c.MaxAcceptRate).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("nats_url", c.NATSUrl).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
