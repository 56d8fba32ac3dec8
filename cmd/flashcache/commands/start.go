package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/internal/telemetry"
	"github.com/marmos91/flashcache/pkg/api"
	"github.com/marmos91/flashcache/pkg/config"
	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/flashcache/flusher"
	"github.com/marmos91/flashcache/pkg/metrics"
	"github.com/marmos91/flashcache/pkg/server"
	"github.com/marmos91/flashcache/pkg/tablespace/fs"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/flashcache/pkg/metrics/prometheus"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the flash cache server",
	Long: `Open the flash cache and serve it until interrupted.

Opening an existing cache recovers it: from the dump when it is current,
otherwise by scanning the device. The background flusher then writes dirty
pages back to the tablespace, and the operator API serves status, dumps,
backups and the write toggle.

On SIGINT or SIGTERM the server stops accepting requests, flushes every dirty
page (unless cache.fast_shutdown is set), writes the dump and exits.

Changes to cache.enable_write, cache.enable_migrate, cache.enable_move and
the flush settings in the configuration file apply without a restart.

Examples:
  # Start with the default config location
  flashcache start

  # Start with a custom config file
  flashcache start --config /etc/flashcache/config.yaml

  # Override settings from the environment
  FLASHCACHE_LOGGING_LEVEL=DEBUG flashcache start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Metrics must be initialized before the cache config picks its
	// recorder.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled")
	}

	cache, store, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("tablespace close error", logger.Err(err))
		}
	}()

	svc := server.New(cfg.ShutdownTimeout)
	if cfg.API.IsEnabled() {
		svc.AddServer("api", api.NewServer(cfg.API, cache, cfg.Cache.BackupDir))
		logger.Info("API server configured", "port", cfg.API.Port)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 {
		svc.AddServer("metrics", server.NewMetricsServer(cfg.Metrics.Port))
	}
	if path := configPathForWatch(GetConfigFile()); path != "" {
		svc.SetWatch(func(ctx context.Context) error {
			return config.Watch(ctx, path, func(next *config.Config) {
				if err := config.ApplyRuntime(cache, next.Cache); err != nil {
					logger.Warn("Failed to apply reloaded config", logger.Err(err))
				}
			})
		})
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			_ = cache.Close(context.Background())
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	bg := flusher.New(cache, cfg.Cache.Flusher())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- svc.Serve(ctx, cache, bg)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped gracefully")
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}
	return nil
}

// openCache opens the device, the tablespace and the cache, running
// recovery. Closing the cache closes the device; the store stays open for
// the caller to close. Everything opened is closed again on failure.
func openCache(ctx context.Context, cfg *config.Config) (*flashcache.Cache, *fs.Store, error) {
	dev, err := cfg.Cache.OpenDevice()
	if err != nil {
		return nil, nil, err
	}
	store, err := cfg.Tablespace.OpenStore()
	if err != nil {
		_ = dev.Close()
		return nil, nil, err
	}

	fcCfg, err := cfg.Cache.Flashcache(dev, store)
	if err == nil {
		var cache *flashcache.Cache
		if cache, err = flashcache.Open(ctx, fcCfg); err == nil {
			logOpened(cfg, cache)
			return cache, store, nil
		}
		err = fmt.Errorf("failed to open cache: %w", err)
	}
	_ = store.Close()
	_ = dev.Close()
	return nil, nil, err
}

func logOpened(cfg *config.Config, cache *flashcache.Cache) {
	st := cache.Status()
	logger.Info("Cache opened",
		logger.Path(cfg.Cache.DevicePath),
		logger.Capacity(st.Capacity),
		logger.WriteMode(st.WriteModeName),
		"recovery", st.Recovery.Source,
		logger.Count(st.Blocks))
}
