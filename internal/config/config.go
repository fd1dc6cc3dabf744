// Package config loads runtime settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// HTTP Server
	Port string `toml:"port"`
	// Mutating requests per client IP and minute, 0 disables the limit
	WriteRateLimit int `toml:"write_rate_limit"`

	// Storage
	DataBackend  string `toml:"data_backend"`
	SQLiteDBPath string `toml:"sqlite_db_path"`
	PostgresURL  string `toml:"postgres_url"`

	// AMQP, empty URL disables event publishing
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Ledger
	LockTimeout      time.Duration `toml:"lock_timeout"`
	BalanceCacheTTL  time.Duration `toml:"balance_cache_ttl"`
	BalanceCacheSize int           `toml:"balance_cache_size"`

	// Scheduler
	PostDatePolicy             string        `toml:"post_date_policy"`
	DueHorizon                 time.Duration `toml:"due_horizon"`
	RecurringProcessorInterval time.Duration `toml:"recurring_processor_interval"`
	ProcessWorkers             int           `toml:"process_workers"`
	MaxCatchUp                 int           `toml:"max_catch_up"`

	// Observability
	MetricsEnabled bool   `toml:"metrics_enabled"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
}

var validBackends = []string{"memory", "sqlite", "postgres"}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:                       "8081",
		WriteRateLimit:             120,
		DataBackend:                "memory",
		SQLiteDBPath:               "./data/bilancio.db",
		AMQPExchange:               "bilancio",
		AMQPQueue:                  "ledger_events",
		LockTimeout:                5 * time.Second,
		BalanceCacheTTL:            30 * time.Second,
		BalanceCacheSize:           1000,
		PostDatePolicy:             "scheduled",
		DueHorizon:                 72 * time.Hour,
		RecurringProcessorInterval: time.Hour,
		ProcessWorkers:             4,
		MaxCatchUp:                 31,
		MetricsEnabled:             true,
		LogLevel:                   "info",
		LogFormat:                  "text",
	}
}

// Load starts from Defaults, decodes CONFIG_FILE when set, then applies
// environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.WriteRateLimit = getEnvInt("WRITE_RATE_LIMIT", cfg.WriteRateLimit)
	cfg.DataBackend = getEnv("DATA_BACKEND", cfg.DataBackend)
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.LockTimeout = getEnvDuration("LOCK_TIMEOUT", cfg.LockTimeout)
	cfg.BalanceCacheTTL = getEnvDuration("BALANCE_CACHE_TTL", cfg.BalanceCacheTTL)
	cfg.BalanceCacheSize = getEnvInt("BALANCE_CACHE_SIZE", cfg.BalanceCacheSize)

	cfg.PostDatePolicy = getEnv("POST_DATE_POLICY", cfg.PostDatePolicy)
	cfg.DueHorizon = getEnvDuration("DUE_HORIZON", cfg.DueHorizon)
	cfg.RecurringProcessorInterval = getEnvDuration("RECURRING_PROCESSOR_INTERVAL", cfg.RecurringProcessorInterval)
	cfg.ProcessWorkers = getEnvInt("PROCESS_WORKERS", cfg.ProcessWorkers)
	cfg.MaxCatchUp = getEnvInt("MAX_CATCH_UP", cfg.MaxCatchUp)

	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.WriteRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid write rate limit %d: cannot be negative", c.WriteRateLimit))
	}

	// Validate data backend
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}

	if c.DataBackend == "postgres" {
		if c.PostgresURL == "" {
			errors = append(errors, "POSTGRES_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.PostgresURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Postgres URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid Postgres URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.LockTimeout < 10*time.Millisecond || c.LockTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid lock timeout %v: must be between 10ms and 1m", c.LockTimeout))
	}
	if c.BalanceCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid balance cache TTL %v: cannot be negative", c.BalanceCacheTTL))
	}
	if c.BalanceCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid balance cache size %d: cannot be negative", c.BalanceCacheSize))
	}

	switch strings.ToLower(c.PostDatePolicy) {
	case "scheduled", "now":
	default:
		errors = append(errors, fmt.Sprintf("invalid post date policy '%s': must be 'scheduled' or 'now'", c.PostDatePolicy))
	}
	if c.DueHorizon < 0 {
		errors = append(errors, fmt.Sprintf("invalid due horizon %v: cannot be negative", c.DueHorizon))
	}

	if c.RecurringProcessorInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid recurring processor interval %v: must be at least 1 second", c.RecurringProcessorInterval))
	} else if c.RecurringProcessorInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring processor interval %v: must be at most 24 hours", c.RecurringProcessorInterval))
	}
	if c.ProcessWorkers < 1 || c.ProcessWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid process workers %d: must be between 1 and 64", c.ProcessWorkers))
	}
	if c.MaxCatchUp < 1 || c.MaxCatchUp > 366 {
		errors = append(errors, fmt.Sprintf("invalid max catch-up %d: must be between 1 and 366", c.MaxCatchUp))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// BalanceCacheEnabled reports whether BalanceOf should go through a cache.
func (c *Config) BalanceCacheEnabled() bool {
	return c.BalanceCacheSize > 0 && c.BalanceCacheTTL > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
