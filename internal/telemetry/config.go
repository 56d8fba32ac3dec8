package telemetry

// Config holds OpenTelemetry tracing configuration for the cache daemon.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the fraction of flush, recovery, dump and backup
	// operations traced, from 0.0 to 1.0
	SampleRate float64
}

// DefaultConfig returns tracing disabled, pointed at a local collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "flashcache",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// ProfilingConfig contains configuration for Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g., "http://localhost:4040")
	Endpoint string

	// ProfileTypes lists the profiles to collect: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration
	ProfileTypes []string
}
