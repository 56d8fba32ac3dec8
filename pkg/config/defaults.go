package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/flashcache/internal/bytesize"
	"github.com/marmos91/flashcache/pkg/api"
)

// Default file names, placed next to the device unless configured.
const (
	DefaultLogName  = "ib_flash_cache.log"
	DefaultDumpName = "ib_flash_cache.dump"
)

// ApplyDefaults replaces zero values with defaults. Explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyTablespaceDefaults(&cfg.Tablespace)
	applyCacheDefaults(&cfg.Cache)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Minute
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

func applyTablespaceDefaults(cfg *TablespaceConfig) {
	if cfg.PageSize == 0 {
		cfg.PageSize = 16 * bytesize.KiB
	}
}

// applyCacheDefaults fills the tunables. DevicePath has no default outside
// GetDefaultConfig.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.DevicePath != "" {
		dir := filepath.Dir(cfg.DevicePath)
		if cfg.LogPath == "" {
			cfg.LogPath = filepath.Join(dir, DefaultLogName)
		}
		if cfg.DumpPath == "" {
			cfg.DumpPath = filepath.Join(dir, DefaultDumpName)
		}
	}
	if cfg.Size == 0 {
		cfg.Size = bytesize.GiB
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 16 * bytesize.KiB
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 16 * bytesize.KiB
	}
	if cfg.WriteMode == "" {
		cfg.WriteMode = "write_back"
	}
	if cfg.EnableWrite == nil {
		cfg.EnableWrite = boolPtr(true)
	}
	if cfg.CompressAlgorithm == "" {
		cfg.CompressAlgorithm = "zstd"
	}
	if cfg.EnableMigrate == nil {
		cfg.EnableMigrate = boolPtr(true)
	}
	if cfg.EnableMove == nil {
		cfg.EnableMove = boolPtr(true)
	}
	if cfg.MoveLimitPct == 0 {
		cfg.MoveLimitPct = 50
	}
	if cfg.IOCapacity == 0 {
		cfg.IOCapacity = 200
	}
	if cfg.WriteCachePct == 0 {
		cfg.WriteCachePct = 30
	}
	if cfg.DoFullIOPct == 0 {
		cfg.DoFullIOPct = 90
	}
	if cfg.WriteCacheFlushPct == 0 {
		cfg.WriteCacheFlushPct = 10
	}
	if cfg.FullFlushPct == 0 {
		cfg.FullFlushPct = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.LogCommitInterval == 0 {
		cfg.LogCommitInterval = time.Minute
	}
	if cfg.RecoveryReadPages == 0 {
		cfg.RecoveryReadPages = 64
	}
	if cfg.CommitStrategy == "" {
		cfg.CommitStrategy = "recovery-safe"
	}
}

func boolPtr(b bool) *bool { return &b }

// GetDefaultConfig returns a Config with every default applied, pointing at
// /var/lib/flashcache. It is used for sample files and when no config file
// exists.
func GetDefaultConfig() *Config {
	cfg := baseConfig()
	ApplyDefaults(cfg)
	return cfg
}

// baseConfig holds the locations used when nothing is configured.
func baseConfig() *Config {
	return &Config{
		Tablespace: TablespaceConfig{
			Path: "/var/lib/flashcache/data",
		},
		Cache: CacheConfig{
			DevicePath: "/var/lib/flashcache/ib_flash_cache.dev",
			EnableDump: true,
		},
	}
}
