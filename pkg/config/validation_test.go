package config

import (
	"strings"
	"testing"

	"github.com/marmos91/flashcache/internal/bytesize"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_MissingDevicePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.DevicePath = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing device path")
	}
	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "cache") || !strings.Contains(errStr, "devicepath") {
		t.Errorf("Expected error about cache device path, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
}

func TestValidate_CacheConstraints(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*CacheConfig)
	}{
		{"block size", func(c *CacheConfig) { c.BlockSize = 32 * bytesize.KiB }},
		{"page size", func(c *CacheConfig) { c.PageSize = 3 * bytesize.KiB }},
		{"too small", func(c *CacheConfig) { c.Size = 16 * bytesize.KiB }},
		{"not a multiple", func(c *CacheConfig) { c.Size = bytesize.MiB + bytesize.KiB }},
		{"write mode", func(c *CacheConfig) { c.WriteMode = "write_around" }},
		{"codec", func(c *CacheConfig) { c.CompressAlgorithm = "quicklz" }},
		{"move limit", func(c *CacheConfig) { c.MoveLimitPct = 150 }},
		{"io capacity", func(c *CacheConfig) { c.IOCapacity = -1 }},
		{"bands", func(c *CacheConfig) { c.WriteCachePct, c.DoFullIOPct = 95, 90 }},
		{"commit strategy", func(c *CacheConfig) { c.CommitStrategy = "never" }},
		{"dump without path", func(c *CacheConfig) { c.EnableDump, c.DumpPath = true, "" }},
		{"log is device", func(c *CacheConfig) { c.LogPath = c.DevicePath }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mut(&cfg.Cache)
			if err := Validate(cfg); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
