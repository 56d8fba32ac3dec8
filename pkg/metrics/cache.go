package metrics

import (
	"github.com/marmos91/flashcache/pkg/flashcache"
)

// newPrometheusCacheMetrics is set by pkg/metrics/prometheus during package
// initialization, which keeps this package free of the collector code.
var newPrometheusCacheMetrics func() flashcache.Metrics

// RegisterCacheMetricsConstructor registers the cache metrics constructor.
func RegisterCacheMetricsConstructor(constructor func() flashcache.Metrics) {
	newPrometheusCacheMetrics = constructor
}

// NewCacheMetrics returns collectors for a flash cache, or nil when metrics
// are disabled or no implementation was linked in.
//
//	metrics.InitRegistry()
//	cfg.Metrics = metrics.NewCacheMetrics()
func NewCacheMetrics() flashcache.Metrics {
	if !IsEnabled() || newPrometheusCacheMetrics == nil {
		return nil
	}
	return newPrometheusCacheMetrics()
}
