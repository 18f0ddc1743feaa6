// Package config provides configuration management for poolclean.
// It loads settings from environment variables with sensible defaults; the
// command line layers its flags over the result before Validate runs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/pkg/errors"
)

// MaxPoolWalletLen leaves room for the terminator in the daemon's
// fixed-width address field
const MaxPoolWalletLen = record.AddressSize - 1

// Config holds the configuration of one poolclean invocation
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Store
	DBPath string
	MaxDBs int

	// Retention
	RetentionDays      int
	DryRun             bool
	Verbose            bool
	Force              bool
	StatsOnly          bool
	SkipShares         bool
	SkipPayments       bool
	SkipBlocks         bool
	SkipBalances       bool
	KeepUnlockedBlocks bool

	// Dust sweep
	DustSweep     bool
	DustThreshold string
	PoolWallet    string

	// Sinks; an empty URL or broker list disables the sink
	PostgresURL  string
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	KafkaBrokers []string

	// PushgatewayURL receives run metrics; empty disables the push
	PushgatewayURL string

	// Run lock and cache maintenance
	LockKey    string
	LockTTL    time.Duration
	SeriesKeys []string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "poolclean"),
		Version:     getEnv("VERSION", "dev"),

		// Store defaults
		DBPath: getEnv("POOLCLEAN_DB_PATH", ""),
		MaxDBs: getEnvInt("LMDB_MAX_DBS", 10),

		// Retention defaults
		RetentionDays:      getEnvInt("RETENTION_DAYS", 365),
		DryRun:             getEnvBool("DRY_RUN", false),
		Verbose:            getEnvBool("VERBOSE", false),
		SkipShares:         getEnvBool("SKIP_SHARES", false),
		SkipPayments:       getEnvBool("SKIP_PAYMENTS", false),
		SkipBlocks:         getEnvBool("SKIP_BLOCKS", false),
		SkipBalances:       getEnvBool("SKIP_BALANCES", false),
		KeepUnlockedBlocks: getEnvBool("KEEP_UNLOCKED_BLOCKS", true),

		// Dust sweep defaults
		DustSweep:     getEnvBool("DUST_SWEEP", false),
		DustThreshold: getEnv("DUST_THRESHOLD", "0.1"),
		PoolWallet:    getEnv("POOL_WALLET", ""),

		// Sink defaults
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "monero-pool"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "poolclean"),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),

		PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),

		LockKey:    getEnv("POOLCLEAN_LOCK_KEY", "poolclean:lock"),
		LockTTL:    getEnvDuration("POOLCLEAN_LOCK_TTL", 30*time.Minute),
		SeriesKeys: getEnvSlice("POOLCLEAN_SERIES_KEYS", []string{"pool:blocks", "pool:blocks_detailed"}),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks the configuration before any store session is opened.
// A dust sweep without a pool wallet is a policy violation; everything
// else is a validation error.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New(errors.ErrorTypeValidation, "config", "database path is required")
	}

	if c.RetentionDays <= 0 {
		return errors.New(errors.ErrorTypeValidation, "config", "RETENTION_DAYS must be positive").
			WithContext("retention_days", c.RetentionDays)
	}

	if c.MaxDBs <= 0 {
		return errors.New(errors.ErrorTypeValidation, "config", "LMDB_MAX_DBS must be positive")
	}

	if _, err := c.Threshold(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "config", "DUST_THRESHOLD is not a valid amount")
	}

	if c.DustSweep && c.PoolWallet == "" {
		return errors.Policy("config", "dust sweep requires a pool wallet")
	}

	if len(c.PoolWallet) > MaxPoolWalletLen {
		return errors.Policy("config", "pool wallet does not fit the address field").
			WithContext("length", len(c.PoolWallet)).
			WithContext("max", MaxPoolWalletLen)
	}

	return nil
}

// Threshold parses the dust threshold into atomic units
func (c *Config) Threshold() (record.Amount, error) {
	return record.ParseAmount(c.DustThreshold)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
