package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/natefinch/atomic"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/flashcache/internal/bytesize"
	"github.com/marmos91/flashcache/pkg/api"
)

// Config is the flashcache server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FLASHCACHE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including the final flush of dirty pages.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the operator HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Tablespace locates the authoritative page store
	Tablespace TablespaceConfig `mapstructure:"tablespace" yaml:"tablespace"`

	// Cache configures the flash cache itself
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, spans are exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics. The registry is served on
// the API server at /metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is a dedicated metrics port. 0 serves metrics only on the API
	// server.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TablespaceConfig locates the tablespace files the cache sits in front of.
type TablespaceConfig struct {
	// Path is the directory holding space_<id>.ibd files and spaces.yaml
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// PageSize is the page size used when creating new spaces
	// Default: 16KiB
	PageSize bytesize.ByteSize `mapstructure:"page_size" validate:"pagesize" yaml:"page_size"`
}

// CacheConfig configures the flash cache.
type CacheConfig struct {
	// DevicePath is the SSD file or block device holding the ring (required)
	DevicePath string `mapstructure:"device_path" validate:"required" yaml:"device_path"`

	// LogPath is the 512-byte persistent log
	// Default: ib_flash_cache.log next to the device
	LogPath string `mapstructure:"log_path" yaml:"log_path"`

	// DumpPath is the warm-start dump file
	// Default: ib_flash_cache.dump next to the device
	DumpPath string `mapstructure:"dump_path" yaml:"dump_path"`

	// BackupDir receives backups created through the API
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir,omitempty"`

	// Size is the ring size. Supports "1GiB", "512Mi" and plain numbers.
	// Default: 1GiB
	Size bytesize.ByteSize `mapstructure:"size" validate:"required" yaml:"size"`

	// BlockSize is the ring slot size: 1, 2, 4, 8 or 16 KiB
	// Default: 16KiB
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"slotsize" yaml:"block_size"`

	// PageSize is the uncompressed page size
	// Default: 16KiB
	PageSize bytesize.ByteSize `mapstructure:"page_size" validate:"pagesize" yaml:"page_size"`

	// WriteMode is write_back or write_through. An existing log keeps the
	// mode it was created with.
	WriteMode string `mapstructure:"write_mode" validate:"oneof=write_back write_through" yaml:"write_mode"`

	// EnableWrite toggles write caching; hot-reloadable
	EnableWrite *bool `mapstructure:"enable_write" yaml:"enable_write"`

	// EnableCompress compresses pages before they enter the ring
	EnableCompress bool `mapstructure:"enable_compress" yaml:"enable_compress"`

	// CompressAlgorithm is snappy, zlib, zstd or xz
	CompressAlgorithm string `mapstructure:"compress_algorithm" validate:"omitempty,oneof=snappy zlib zstd xz" yaml:"compress_algorithm"`

	EnableDump    bool  `mapstructure:"enable_dump" yaml:"enable_dump"`
	EnableMigrate *bool `mapstructure:"enable_migrate" yaml:"enable_migrate"`
	EnableMove    *bool `mapstructure:"enable_move" yaml:"enable_move"`

	// MoveLimitPct moves blocks only once they are at least this far behind
	// the write cursor, as a percentage of the ring
	MoveLimitPct int `mapstructure:"move_limit_pct" validate:"gte=0,lte=100" yaml:"move_limit_pct"`

	// IOCapacity is the number of pages a full flush pass may write
	IOCapacity int `mapstructure:"io_capacity" validate:"gt=0" yaml:"io_capacity"`

	WriteCachePct      int `mapstructure:"write_cache_pct" validate:"gte=0,lte=100" yaml:"write_cache_pct"`
	DoFullIOPct        int `mapstructure:"do_full_io_pct" validate:"gte=0,lte=100" yaml:"do_full_io_pct"`
	WriteCacheFlushPct int `mapstructure:"write_cache_flush_pct" validate:"gte=0,lte=100" yaml:"write_cache_flush_pct"`
	FullFlushPct       int `mapstructure:"full_flush_pct" validate:"gte=0,lte=100" yaml:"full_flush_pct"`

	FlushInterval     time.Duration `mapstructure:"flush_interval" validate:"gt=0" yaml:"flush_interval"`
	LogCommitInterval time.Duration `mapstructure:"log_commit_interval" validate:"gt=0" yaml:"log_commit_interval"`

	// DumpInterval writes a dump periodically; 0 dumps only on shutdown
	DumpInterval time.Duration `mapstructure:"dump_interval" validate:"gte=0" yaml:"dump_interval"`

	RecoveryReadPages int    `mapstructure:"recovery_read_pages" validate:"gt=0" yaml:"recovery_read_pages"`
	SafestRecovery    bool   `mapstructure:"safest_recovery" yaml:"safest_recovery"`
	CommitStrategy    string `mapstructure:"commit_strategy" validate:"oneof=recovery-safe simple" yaml:"commit_strategy"`
	FastShutdown      bool   `mapstructure:"fast_shutdown" yaml:"fast_shutdown"`
	DirectIO          bool   `mapstructure:"direct_io" yaml:"direct_io"`

	// WarmupSpaces are copied into the cache when it is first created
	WarmupSpaces []uint32 `mapstructure:"warmup_spaces" yaml:"warmup_spaces,omitempty"`
}

// Load reads configuration from configPath (empty uses the default
// location), the environment and the defaults, then validates it.
//
// A missing file is not an error: the defaults plus any FLASHCACHE_*
// variables are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if !found {
		cfg = baseConfig()
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for commands that need an existing config file. Its
// errors tell the user how to create one.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  flashcache init\n\n"+
				"Or specify a custom config file:\n"+
				"  flashcache <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  flashcache init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path, replacing any existing file
// atomically.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// bindEnvs registers every mapstructure key of t with viper so that
// AutomaticEnv applies even to keys absent from the config file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		ft := f.Type
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, ft, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// setupViper wires FLASHCACHE_* variables (FLASHCACHE_CACHE_ENABLE_WRITE
// for cache.enable_write) and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FLASHCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the config file; a missing file reports false.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks parses ByteSize and time.Duration values and
// comma-separated lists from the environment.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts "16KiB", "1Gi", "100MB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML numbers may arrive as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s", "5m" or integer nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir is $XDG_CONFIG_HOME/flashcache, else ~/.config/flashcache,
// else the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flashcache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "flashcache")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
