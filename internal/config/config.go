// Package config loads qakka's runtime configuration from the environment,
// following the teacher's priority order: ENV vars > .env file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all qakka broker configuration.
type Config struct {
	// Region identity (spec.md §4.8 multi-region fan-out).
	RegionLocal       string   `env:"QAKKA_REGION_LOCAL" envDefault:"us-east"`
	RegionsReplicated []string `env:"QAKKA_REGIONS_REPLICATED" envSeparator:"," envDefault:""`

	// Timing.
	InflightTimeoutMs      int64 `env:"QAKKA_INFLIGHT_TIMEOUT_MS" envDefault:"5000"`
	DeliveryDelayMs        int64 `env:"QAKKA_DELIVERY_DELAY_MS" envDefault:"0"`
	ReaperIntervalMs       int64 `env:"QAKKA_REAPER_INTERVAL_MS" envDefault:"2000"`
	CounterFlushIntervalMs int64 `env:"QAKKA_COUNTER_FLUSH_INTERVAL_MS" envDefault:"1000"`
	BodyGCIntervalMs       int64 `env:"QAKKA_BODY_GC_INTERVAL_MS" envDefault:"3600000"`
	BodyGCMaxAgeMs         int64 `env:"QAKKA_BODY_GC_MAX_AGE_MS" envDefault:"604800000"` // 7 days

	// Sharding.
	ShardMaxSize int64 `env:"QAKKA_SHARD_MAX_SIZE" envDefault:"100000"`

	// Actor mailbox (spec.md §4.7).
	MailboxBound int `env:"QAKKA_MAILBOX_BOUND" envDefault:"10000"`

	// Per-actor send throttling; 0 disables rate limiting.
	SendRateLimitPerSec float64 `env:"QAKKA_SEND_RATE_LIMIT_PER_SEC" envDefault:"0"`
	SendBurst           int     `env:"QAKKA_SEND_BURST" envDefault:"100"`

	// Audit idempotency dedupe window (SPEC_FULL.md §9).
	AuditDedupeCapacity int `env:"QAKKA_AUDIT_DEDUPE_CAPACITY" envDefault:"10000"`

	// Cassandra.
	CassandraHosts     []string      `env:"QAKKA_CASSANDRA_HOSTS" envSeparator:"," envDefault:"127.0.0.1"`
	CassandraKeyspace  string        `env:"QAKKA_CASSANDRA_KEYSPACE" envDefault:"qakka"`
	CassandraTimeout   time.Duration `env:"QAKKA_CASSANDRA_TIMEOUT" envDefault:"5s"`
	CassandraConsLevel string        `env:"QAKKA_CASSANDRA_CONSISTENCY" envDefault:"QUORUM"`

	// Multi-region fan-out transport.
	NATSURL string `env:"QAKKA_NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	// Metrics/monitoring.
	MetricsAddr     string        `env:"QAKKA_METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"QAKKA_METRICS_INTERVAL" envDefault:"15s"`

	// Logging.
	LogLevel  string `env:"QAKKA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"QAKKA_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"QAKKA_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the
// environment. logger may be nil during early startup before a logger
// exists.
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
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.RegionLocal == "" {
		return fmt.Errorf("QAKKA_REGION_LOCAL is required")
	}
	if c.ShardMaxSize < 1 {
		return fmt.Errorf("QAKKA_SHARD_MAX_SIZE must be > 0, got %d", c.ShardMaxSize)
	}
	if c.MailboxBound < 1 {
		return fmt.Errorf("QAKKA_MAILBOX_BOUND must be > 0, got %d", c.MailboxBound)
	}
	if c.InflightTimeoutMs < 1 {
		return fmt.Errorf("QAKKA_INFLIGHT_TIMEOUT_MS must be > 0, got %d", c.InflightTimeoutMs)
	}
	for _, region := range c.RegionsReplicated {
		if region == c.RegionLocal {
			return fmt.Errorf("QAKKA_REGIONS_REPLICATED must not include the local region %q", c.RegionLocal)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("QAKKA_LOG_LEVEL must be one of: debug, info, warn, error (got %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("QAKKA_LOG_FORMAT must be one of: json, pretty (got %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the loaded configuration for diagnostics at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("region_local", c.RegionLocal).
		Strs("regions_replicated", c.RegionsReplicated).
		Int64("inflight_timeout_ms", c.InflightTimeoutMs).
		Int64("delivery_delay_ms", c.DeliveryDelayMs).
		Int64("reaper_interval_ms", c.ReaperIntervalMs).
		Int64("shard_max_size", c.ShardMaxSize).
		Int("mailbox_bound", c.MailboxBound).
		Float64("send_rate_limit_per_sec", c.SendRateLimitPerSec).
		Strs("cassandra_hosts", c.CassandraHosts).
		Str("cassandra_keyspace", c.CassandraKeyspace).
		Str("nats_url", c.NATSURL).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
