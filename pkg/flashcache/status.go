package flashcache

import (
	"sync/atomic"

	"github.com/marmos91/flashcache/pkg/codec"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
)

// counters are monotonic event counts.
type counters struct {
	reads              atomic.Uint64
	readHits           atomic.Uint64
	corruptionDetected atomic.Uint64
	doublewritePages   atomic.Uint64
	singlePages        atomic.Uint64
	migrated           atomic.Uint64
	moved              atomic.Uint64
	invalidated        atomic.Uint64
	merged             atomic.Uint64
	flushedPages       atomic.Uint64
	flushPasses        atomic.Uint64
	compressedPages    atomic.Uint64
	compressedBytesIn  atomic.Uint64
	compressedBytesOut atomic.Uint64
	commits            atomic.Uint64
}

// Status is a point-in-time view of the cache.
type Status struct {
	Capacity         uint32          `json:"capacity_slots" yaml:"capacity_slots"`
	SlotSize         int             `json:"slot_size" yaml:"slot_size"`
	Blocks           int             `json:"blocks" yaml:"blocks"`
	Used             uint64          `json:"used_slots" yaml:"used_slots"`
	UsedUncompressed uint64          `json:"used_uncompressed_slots" yaml:"used_uncompressed_slots"`
	Dirty            uint64          `json:"dirty_slots" yaml:"dirty_slots"`
	Distance         int64           `json:"distance" yaml:"distance"`
	Skipped          uint32          `json:"skipped_slots" yaml:"skipped_slots"`
	Write            fclog.Cursor    `json:"write" yaml:"write"`
	Flush            fclog.Cursor    `json:"flush" yaml:"flush"`
	WriteMode        fclog.WriteMode `json:"-" yaml:"-"`
	WriteModeName    string          `json:"write_mode" yaml:"write_mode"`
	EnableWrite      bool            `json:"enable_write" yaml:"enable_write"`
	Codec            string          `json:"codec" yaml:"codec"`

	Reads              uint64 `json:"reads" yaml:"reads"`
	ReadHits           uint64 `json:"read_hits" yaml:"read_hits"`
	CorruptionDetected uint64 `json:"corruption_detected" yaml:"corruption_detected"`
	DoublewritePages   uint64 `json:"doublewrite_pages" yaml:"doublewrite_pages"`
	SinglePages        uint64 `json:"single_pages" yaml:"single_pages"`
	Migrated           uint64 `json:"migrated_pages" yaml:"migrated_pages"`
	Moved              uint64 `json:"moved_pages" yaml:"moved_pages"`
	Invalidated        uint64 `json:"invalidated_pages" yaml:"invalidated_pages"`
	Merged             uint64 `json:"merged_pages" yaml:"merged_pages"`
	FlushedPages       uint64 `json:"flushed_pages" yaml:"flushed_pages"`
	FlushPasses        uint64 `json:"flush_passes" yaml:"flush_passes"`
	CompressedPages    uint64 `json:"compressed_pages" yaml:"compressed_pages"`
	Commits            uint64 `json:"log_commits" yaml:"log_commits"`

	Recovery RecoveryStats `json:"recovery" yaml:"recovery"`
}

// HitRatio returns the fraction of reads served from the cache.
func (s Status) HitRatio() float64 {
	if s.Reads == 0 {
		return 0
	}
	return float64(s.ReadHits) / float64(s.Reads)
}

// DirtyPct returns dirty slots as a percentage of capacity.
func (s Status) DirtyPct() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Dirty) * 100 / float64(s.Capacity)
}

// Status returns the current cache status.
func (c *Cache) Status() Status {
	c.mu.Lock()
	s := Status{
		Capacity:         c.capacity,
		SlotSize:         c.slotSize,
		Used:             c.used,
		UsedUncompressed: c.usedUncompressed,
		Dirty:            c.dirty,
		Distance:         c.distanceLocked(),
		Skipped:          c.skipped,
		Write:            c.write,
		Flush:            c.flush,
		WriteMode:        c.writeMode,
		WriteModeName:    c.writeMode.String(),
		EnableWrite:      c.enableWrite,
		Recovery:         c.recovery,
	}
	c.mu.Unlock()

	s.Blocks = c.reg.len()
	s.Codec = "none"
	if c.codec != nil {
		s.Codec = codec.NameOf(c.codec.ID())
	}
	s.Reads = c.stats.reads.Load()
	s.ReadHits = c.stats.readHits.Load()
	s.CorruptionDetected = c.stats.corruptionDetected.Load()
	s.DoublewritePages = c.stats.doublewritePages.Load()
	s.SinglePages = c.stats.singlePages.Load()
	s.Migrated = c.stats.migrated.Load()
	s.Moved = c.stats.moved.Load()
	s.Invalidated = c.stats.invalidated.Load()
	s.Merged = c.stats.merged.Load()
	s.FlushedPages = c.stats.flushedPages.Load()
	s.FlushPasses = c.stats.flushPasses.Load()
	s.CompressedPages = c.stats.compressedPages.Load()
	s.Commits = c.stats.commits.Load()
	return s
}

func (c *Cache) recordUsage() {
	if c.metrics == nil {
		return
	}
	c.mu.Lock()
	used, dirty, d := c.used, c.dirty, c.distanceLocked()
	c.mu.Unlock()
	c.metrics.RecordUsage(used, dirty, d, c.capacity)
}
