package config

import (
	"strings"
	"testing"
	"time"

	"github.com/bardlex/poolclean/internal/record"
	"github.com/bardlex/poolclean/pkg/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.RetentionDays != 365 || cfg.DustThreshold != "0.1" || !cfg.KeepUnlockedBlocks {
					t.Errorf("defaults = %+v", cfg)
				}
				if cfg.PostgresURL != "" || cfg.KafkaBrokers != nil {
					t.Error("sinks should be disabled by default")
				}
			},
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"POOLCLEAN_DB_PATH":    "/var/lib/monero-pool/data.mdb",
				"RETENTION_DAYS":       "180",
				"DRY_RUN":              "true",
				"KEEP_UNLOCKED_BLOCKS": "false",
				"KAFKA_BROKERS":        "kafka-1:9092, kafka-2:9092",
				"POOLCLEAN_LOCK_TTL":   "5m",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.DBPath != "/var/lib/monero-pool/data.mdb" || cfg.RetentionDays != 180 {
					t.Errorf("DBPath/RetentionDays = %q/%d", cfg.DBPath, cfg.RetentionDays)
				}
				if !cfg.DryRun || cfg.KeepUnlockedBlocks {
					t.Errorf("DryRun/KeepUnlockedBlocks = %v/%v", cfg.DryRun, cfg.KeepUnlockedBlocks)
				}
				if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
					t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
				}
				if cfg.LockTTL != 5*time.Minute {
					t.Errorf("LockTTL = %v", cfg.LockTTL)
				}
			},
		},
		{
			name:    "unparsable values fall back",
			envVars: map[string]string{"RETENTION_DAYS": "a year", "DRY_RUN": "maybe"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.RetentionDays != 365 || cfg.DryRun {
					t.Errorf("RetentionDays/DryRun = %d/%v", cfg.RetentionDays, cfg.DryRun)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			tt.check(t, Load())
		})
	}
}

func validConfig() *Config {
	return &Config{
		DBPath:        "/tmp/pool.db",
		MaxDBs:        10,
		RetentionDays: 365,
		DustThreshold: "0.1",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		edit     func(*Config)
		wantType errors.ErrorType
	}{
		{"valid", func(*Config) {}, ""},
		{"sweep with wallet", func(c *Config) { c.DustSweep, c.PoolWallet = true, "4Pool" }, ""},
		{"missing path", func(c *Config) { c.DBPath = "" }, errors.ErrorTypeValidation},
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }, errors.ErrorTypeValidation},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, errors.ErrorTypeValidation},
		{"zero max dbs", func(c *Config) { c.MaxDBs = 0 }, errors.ErrorTypeValidation},
		{"bad threshold", func(c *Config) { c.DustThreshold = "dust" }, errors.ErrorTypeValidation},
		{"negative threshold", func(c *Config) { c.DustThreshold = "-0.1" }, errors.ErrorTypeValidation},
		{"too precise threshold", func(c *Config) { c.DustThreshold = "0.0000000000001" }, errors.ErrorTypeValidation},
		{"sweep without wallet", func(c *Config) { c.DustSweep = true }, errors.ErrorTypePolicy},
		{"wallet too long", func(c *Config) { c.PoolWallet = strings.Repeat("4", record.AddressSize) }, errors.ErrorTypePolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.edit(cfg)

			err := cfg.Validate()
			if tt.wantType == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.IsType(err, tt.wantType) {
				t.Errorf("Validate() error = %v, want %s error", err, tt.wantType)
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	cfg := validConfig()
	got, err := cfg.Threshold()
	if err != nil {
		t.Fatalf("Threshold() error = %v", err)
	}
	if got != record.Amount(100_000_000_000) {
		t.Errorf("Threshold() = %d, want 0.1 XMR in atomic units", got)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "test_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_DURATION", "30s")
	t.Setenv("TEST_SLICE", "a,,b ")

	if got := getEnv("TEST_STRING", "default"); got != "test_value" {
		t.Errorf("getEnv() = %v, want %v", got, "test_value")
	}
	if got := getEnv("NONEXISTENT", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want %v", got, "default")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want %v", got, 42)
	}
	if got := getEnvInt("NONEXISTENT", 99); got != 99 {
		t.Errorf("getEnvInt() = %v, want %v", got, 99)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Errorf("getEnvBool() = %v, want true", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want %v", got, 30*time.Second)
	}
	if got := getEnvSlice("TEST_SLICE", nil); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("getEnvSlice() = %q, want [a b]", got)
	}
}
