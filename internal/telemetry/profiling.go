package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profilingEnabled atomic.Bool

// ParseProfileTypes converts profile names to Pyroscope profile types.
func ParseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	types := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("invalid profile type %q", name)
		}
		types = append(types, pt)
	}
	return types, nil
}

// InitProfiling starts Pyroscope continuous profiling. The returned function
// stops the profiler.
//
// Mutex profiling is where contention on the cache lock and the per-slot
// locks shows up, so mutex_* and block_* types also switch on the runtime's
// sampling for them.
func InitProfiling(cfg ProfilingConfig) (func() error, error) {
	profilingEnabled.Store(false)
	if !cfg.Enabled {
		return func() error { return nil }, nil
	}

	types, err := ParseProfileTypes(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.ProfileTypes {
		switch name {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(5)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(5)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profilingEnabled.Store(true)
	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether InitProfiling started a profiler.
func IsProfilingEnabled() bool {
	return profilingEnabled.Load()
}
