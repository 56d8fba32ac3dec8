// Package metrics holds the process-wide Prometheus registry. Collectors are
// created only after InitRegistry; until then constructors return nil and
// callers pass nil to the cache, which disables collection.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the registry with the Go runtime and process
// collectors. Calling it again keeps the existing registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// GetRegistry returns the registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

func IsEnabled() bool {
	return GetRegistry() != nil
}

// Handler serves the registry in the Prometheus exposition format. Before
// InitRegistry it answers 404.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// reset drops the registry. Tests only.
func reset() {
	mu.Lock()
	registry = nil
	mu.Unlock()
}
