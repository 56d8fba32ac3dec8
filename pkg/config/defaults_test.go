package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/flashcache/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.API.ReadTimeout)
	}
	if !cfg.API.IsEnabled() {
		t.Error("Expected API enabled by default")
	}
}

func TestApplyDefaults_Cache(t *testing.T) {
	cfg := &Config{Cache: CacheConfig{DevicePath: "/ssd/fc.dev"}}
	ApplyDefaults(cfg)

	c := cfg.Cache
	if c.LogPath != filepath.Join("/ssd", DefaultLogName) {
		t.Errorf("Expected log next to the device, got %q", c.LogPath)
	}
	if c.DumpPath != filepath.Join("/ssd", DefaultDumpName) {
		t.Errorf("Expected dump next to the device, got %q", c.DumpPath)
	}
	if c.BlockSize != 16*bytesize.KiB || c.PageSize != 16*bytesize.KiB {
		t.Errorf("Expected 16KiB blocks and pages, got %v and %v", c.BlockSize, c.PageSize)
	}
	if c.MoveLimitPct != 50 {
		t.Errorf("Expected move limit 50%%, got %d", c.MoveLimitPct)
	}
	if c.WriteMode != "write_back" || c.CommitStrategy != "recovery-safe" {
		t.Errorf("Expected write_back/recovery-safe, got %s/%s", c.WriteMode, c.CommitStrategy)
	}
	if c.DumpInterval != 0 {
		t.Errorf("Expected periodic dumps off, got %v", c.DumpInterval)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	off := false
	cfg := &Config{
		Logging:         LoggingConfig{Level: "DEBUG", Format: "json", Output: "stderr"},
		ShutdownTimeout: time.Minute,
		Cache: CacheConfig{
			DevicePath:    "/ssd/fc.dev",
			LogPath:       "/meta/fc.log",
			BlockSize:     4 * bytesize.KiB,
			EnableWrite:   &off,
			IOCapacity:    1000,
			FlushInterval: 100 * time.Millisecond,
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging preserved, got %+v", cfg.Logging)
	}
	if cfg.ShutdownTimeout != time.Minute {
		t.Errorf("Expected shutdown timeout 1m, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Cache.LogPath != "/meta/fc.log" {
		t.Errorf("Expected explicit log path, got %q", cfg.Cache.LogPath)
	}
	if cfg.Cache.BlockSize != 4*bytesize.KiB {
		t.Errorf("Expected block size 4KiB, got %v", cfg.Cache.BlockSize)
	}
	if *cfg.Cache.EnableWrite {
		t.Error("Expected explicit enable_write=false preserved")
	}
	if cfg.Cache.IOCapacity != 1000 || cfg.Cache.FlushInterval != 100*time.Millisecond {
		t.Errorf("Expected explicit flush tuning preserved, got %d/%v", cfg.Cache.IOCapacity, cfg.Cache.FlushInterval)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}
