package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/internal/telemetry"
	"github.com/marmos91/flashcache/pkg/codec"
	"github.com/marmos91/flashcache/pkg/device"
	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
	"github.com/marmos91/flashcache/pkg/flashcache/flusher"
	"github.com/marmos91/flashcache/pkg/metrics"
	"github.com/marmos91/flashcache/pkg/page"
	"github.com/marmos91/flashcache/pkg/tablespace/fs"
)

// LoggerConfig converts the logging section for logger.Init.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TelemetryConfig converts the telemetry section for telemetry.Init.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "flashcache",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig converts the profiling section for telemetry.InitProfiling.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    "flashcache",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
	}
}

// OpenDevice opens (creating if needed) the ring device.
func (c CacheConfig) OpenDevice() (*device.File, error) {
	if err := os.MkdirAll(filepath.Dir(c.DevicePath), 0755); err != nil {
		return nil, fmt.Errorf("create device directory: %w", err)
	}
	dev, err := device.Open(c.DevicePath, c.Size.Int64(), device.Options{DirectIO: c.DirectIO})
	if err != nil {
		return nil, fmt.Errorf("open cache device %s: %w", c.DevicePath, err)
	}
	return dev, nil
}

// OpenStore opens the tablespace directory.
func (t TablespaceConfig) OpenStore() (*fs.Store, error) {
	store, err := fs.New(fs.DefaultConfig(t.Path))
	if err != nil {
		return nil, fmt.Errorf("open tablespace %s: %w", t.Path, err)
	}
	return store, nil
}

// Flashcache builds the cache configuration around an opened device and
// store. The metrics registry must be initialized beforehand for the cache
// to record metrics.
func (c CacheConfig) Flashcache(dev device.Device, store *fs.Store) (flashcache.Config, error) {
	mode, err := fclog.ParseWriteMode(c.WriteMode)
	if err != nil {
		return flashcache.Config{}, err
	}

	cfg := flashcache.DefaultConfig()
	cfg.Device = dev
	cfg.Store = store
	cfg.LogPath = c.LogPath
	cfg.DumpPath = c.DumpPath
	cfg.SlotSize = int(c.BlockSize)
	cfg.PageSize = int(c.PageSize)
	cfg.WriteMode = mode
	cfg.EnableWrite = derefBool(c.EnableWrite, true)
	cfg.EnableMigrate = derefBool(c.EnableMigrate, true)
	cfg.EnableMove = derefBool(c.EnableMove, true)
	cfg.EnableDump = c.EnableDump
	cfg.MoveLimitPct = c.MoveLimitPct
	cfg.IOCapacity = c.IOCapacity
	cfg.WriteCachePct = c.WriteCachePct
	cfg.DoFullIOPct = c.DoFullIOPct
	cfg.WriteCacheFlushPct = c.WriteCacheFlushPct
	cfg.FullFlushPct = c.FullFlushPct
	cfg.RecoveryReadPages = c.RecoveryReadPages
	cfg.SafestRecovery = c.SafestRecovery
	cfg.CommitStrategy = c.CommitStrategy
	cfg.FastShutdown = c.FastShutdown
	cfg.WarmupSpaces = c.WarmupSpaces
	cfg.Inspector = page.Inspector{}
	cfg.Metrics = metrics.NewCacheMetrics()

	if c.EnableCompress {
		cd, err := codec.ByName(c.CompressAlgorithm)
		if err != nil {
			return flashcache.Config{}, err
		}
		cfg.Compress = true
		cfg.Codec = cd.ID()
	}
	return cfg, nil
}

// Flusher returns the background flusher intervals.
func (c CacheConfig) Flusher() flusher.Config {
	cfg := flusher.DefaultConfig()
	cfg.FlushInterval = c.FlushInterval
	cfg.LogCommitInterval = c.LogCommitInterval
	cfg.DumpInterval = c.DumpInterval
	return cfg
}

// Runtime is the part of a running cache that hot reloads may change.
type Runtime interface {
	SetWriteEnabled(enabled bool) error
	SetMigrate(enabled bool)
	SetMove(enabled bool)
	SetFlushTuning(t flashcache.FlushTuning) error
}

var _ Runtime = (*flashcache.Cache)(nil)

// ApplyRuntime pushes the reloadable settings of c into a running cache.
func ApplyRuntime(rt Runtime, c CacheConfig) error {
	if err := rt.SetWriteEnabled(derefBool(c.EnableWrite, true)); err != nil {
		return fmt.Errorf("set write enabled: %w", err)
	}
	rt.SetMigrate(derefBool(c.EnableMigrate, true))
	rt.SetMove(derefBool(c.EnableMove, true))
	return rt.SetFlushTuning(flashcache.FlushTuning{
		IOCapacity:         c.IOCapacity,
		WriteCachePct:      c.WriteCachePct,
		DoFullIOPct:        c.DoFullIOPct,
		WriteCacheFlushPct: c.WriteCacheFlushPct,
		FullFlushPct:       c.FullFlushPct,
	})
}

func derefBool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
