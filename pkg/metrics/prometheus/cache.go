package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/metrics"
)

func init() {
	metrics.RegisterCacheMetricsConstructor(func() flashcache.Metrics {
		return NewCacheMetrics(metrics.GetRegistry())
	})
}

// CacheMetrics is the Prometheus implementation of flashcache.Metrics.
// All methods are safe on a nil receiver.
type CacheMetrics struct {
	reads         *prometheus.CounterVec
	readDuration  *prometheus.HistogramVec
	writes        *prometheus.CounterVec
	writeBytes    *prometheus.CounterVec
	flushedPages  prometheus.Counter
	flushDuration prometheus.Histogram
	usedSlots     prometheus.Gauge
	dirtySlots    prometheus.Gauge
	distance      prometheus.Gauge
	capacity      prometheus.Gauge
	origBytes     prometheus.Counter
	storedBytes   prometheus.Counter
	compressRatio prometheus.Histogram
	recoveryDrops prometheus.Counter
}

var _ flashcache.Metrics = (*CacheMetrics)(nil)

// NewCacheMetrics creates the flashcache_* collectors on reg.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	f := promauto.With(reg)
	return &CacheMetrics{
		reads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashcache_reads_total",
				Help: "Page reads served by the flash cache by result",
			},
			[]string{"result"}, // hit, miss, corrupt, dropped
		),
		readDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "flashcache_read_duration_milliseconds",
				Help: "Duration of flash cache page reads in milliseconds",
				Buckets: []float64{
					0.01, // 10us - index miss
					0.05,
					0.1, // 100us - SSD hit
					0.5,
					1,
					5,
					10,
					50,
				},
			},
			[]string{"result"},
		),
		writes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashcache_pages_written_total",
				Help: "Pages written into the ring by source",
			},
			[]string{"source"}, // doublewrite, single, migrate, move
		),
		writeBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashcache_bytes_written_total",
				Help: "Bytes written into the ring by source",
			},
			[]string{"source"},
		),
		flushedPages: f.NewCounter(prometheus.CounterOpts{
			Name: "flashcache_flushed_pages_total",
			Help: "Pages copied from the ring to the tablespace",
		}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashcache_flush_duration_milliseconds",
			Help:    "Duration of flush passes in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		usedSlots: f.NewGauge(prometheus.GaugeOpts{
			Name: "flashcache_used_slots",
			Help: "Slots holding a valid page",
		}),
		dirtySlots: f.NewGauge(prometheus.GaugeOpts{
			Name: "flashcache_dirty_slots",
			Help: "Slots holding a page not yet flushed to the tablespace",
		}),
		distance: f.NewGauge(prometheus.GaugeOpts{
			Name: "flashcache_flush_distance_slots",
			Help: "Slots between the flush cursor and the write cursor",
		}),
		capacity: f.NewGauge(prometheus.GaugeOpts{
			Name: "flashcache_capacity_slots",
			Help: "Slots in the ring",
		}),
		origBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "flashcache_compression_input_bytes_total",
			Help: "Page bytes offered to the compressor",
		}),
		storedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "flashcache_compression_stored_bytes_total",
			Help: "Bytes stored in the ring for compressed pages",
		}),
		compressRatio: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashcache_compression_ratio",
			Help:    "Stored size over page size for compressed pages",
			Buckets: prometheus.LinearBuckets(0.125, 0.125, 8),
		}),
		recoveryDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "flashcache_recovery_discarded_total",
			Help: "Blocks discarded at startup as stale or duplicate",
		}),
	}
}

func (m *CacheMetrics) ObserveRead(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(result).Inc()
	m.readDuration.WithLabelValues(result).Observe(float64(d.Microseconds()) / 1000)
}

func (m *CacheMetrics) ObserveWrite(source string, pages int, bytes int64) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(source).Add(float64(pages))
	if bytes > 0 {
		m.writeBytes.WithLabelValues(source).Add(float64(bytes))
	}
}

func (m *CacheMetrics) ObserveFlush(pages int, d time.Duration) {
	if m == nil {
		return
	}
	m.flushedPages.Add(float64(pages))
	m.flushDuration.Observe(float64(d.Microseconds()) / 1000)
}

func (m *CacheMetrics) RecordUsage(used, dirty uint64, distance int64, capacity uint32) {
	if m == nil {
		return
	}
	m.usedSlots.Set(float64(used))
	m.dirtySlots.Set(float64(dirty))
	m.distance.Set(float64(distance))
	m.capacity.Set(float64(capacity))
}

func (m *CacheMetrics) RecordCompression(origBytes, storedBytes int) {
	if m == nil || origBytes <= 0 {
		return
	}
	m.origBytes.Add(float64(origBytes))
	m.storedBytes.Add(float64(storedBytes))
	m.compressRatio.Observe(float64(storedBytes) / float64(origBytes))
}

func (m *CacheMetrics) RecordRecoveryDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recoveryDrops.Add(float64(n))
}
