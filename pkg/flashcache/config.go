package flashcache

import (
	"context"
	"fmt"

	"github.com/marmos91/flashcache/pkg/codec"
	"github.com/marmos91/flashcache/pkg/device"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
	"github.com/marmos91/flashcache/pkg/page"
	"github.com/marmos91/flashcache/pkg/tablespace"
)

// Inspector reads the page header fields the cache depends on.
type Inspector interface {
	IsCorrupted(buf []byte) bool
	LSN(buf []byte) uint64
	SpaceID(buf []byte) uint32
	PageNo(buf []byte) uint32
	Type(buf []byte) page.Type
	// PageSize infers the size of the page starting at buf, or 0.
	PageSize(buf []byte) int
}

// DoublewriteSource yields the pages staged in the double-write area. Recovery
// replays them when writes were disabled at the time of the crash.
type DoublewriteSource interface {
	StagedPages(ctx context.Context) ([][]byte, error)
}

// Config configures a Cache.
type Config struct {
	// Device is the ring's backing store. Its size sets the capacity.
	Device device.Device

	// Store is the authoritative tablespace.
	Store tablespace.Store

	// LogPath is the 512-byte persistent log file.
	LogPath string

	// DumpPath is the warm-start snapshot file. Empty disables dumps.
	DumpPath string

	// SlotSize is the ring slot size in bytes (1, 2, 4, 8 or 16 KiB).
	SlotSize int

	// PageSize is the uncompressed tablespace page size. Only pages of this
	// size are compressed.
	PageSize int

	// WriteMode is used for a new log; an existing log keeps its mode.
	WriteMode fclog.WriteMode

	EnableWrite bool
	Compress    bool
	Codec       codec.ID

	EnableDump    bool
	EnableMigrate bool
	EnableMove    bool

	// MoveLimitPct bounds moves to blocks at least this far behind the write
	// cursor, as a percentage of capacity.
	MoveLimitPct int

	// IOCapacity is the number of pages a full flush pass may write.
	IOCapacity int

	// Flush bands, in percent. Below WriteCachePct of the ring dirty nothing
	// is flushed; below DoFullIOPct WriteCacheFlushPct of IOCapacity is;
	// above it FullFlushPct of IOCapacity is.
	WriteCachePct      int
	DoFullIOPct        int
	WriteCacheFlushPct int
	FullFlushPct       int

	// FlushBufferPages bounds the pages handled by one flush pass.
	FlushBufferPages int

	// CommitThreshold is the number of slots written between log commits.
	CommitThreshold int

	// RecoveryReadPages is the number of pages read per recovery batch.
	RecoveryReadPages int

	// SafestRecovery forces the stale-block pass on every recovery.
	SafestRecovery bool

	// CommitStrategy is "recovery-safe" or "simple".
	CommitStrategy string

	// FastShutdown skips flushing dirty blocks on Close.
	FastShutdown bool

	// ReservePages is the number of pages producers keep free.
	ReservePages int

	// WarmupSpaces lists spaces whose index and inode pages are copied into
	// a newly created cache.
	WarmupSpaces []uint32

	Inspector   Inspector
	Doublewrite DoublewriteSource
	Metrics     Metrics
}

// DefaultConfig returns a configuration with every tunable set. Device, Store
// and LogPath must still be filled in.
func DefaultConfig() Config {
	return Config{
		SlotSize:           16 << 10,
		PageSize:           16 << 10,
		WriteMode:          fclog.WriteBack,
		EnableWrite:        true,
		Codec:              codec.Zstd,
		EnableMigrate:      true,
		EnableMove:         true,
		MoveLimitPct:       50,
		IOCapacity:         200,
		WriteCachePct:      30,
		DoFullIOPct:        90,
		WriteCacheFlushPct: 10,
		FullFlushPct:       100,
		FlushBufferPages:   64,
		CommitThreshold:    8192,
		RecoveryReadPages:  64,
		CommitStrategy:     "recovery-safe",
		ReservePages:       32,
	}
}

func validSlotSize(n int) bool {
	switch n {
	case 1 << 10, 2 << 10, 4 << 10, 8 << 10, 16 << 10:
		return true
	}
	return false
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Device == nil:
		return fmt.Errorf("%w: device is required", ErrInvalidConfig)
	case cfg.Store == nil:
		return fmt.Errorf("%w: tablespace store is required", ErrInvalidConfig)
	case cfg.LogPath == "":
		return fmt.Errorf("%w: log path is required", ErrInvalidConfig)
	case !validSlotSize(cfg.SlotSize):
		return fmt.Errorf("%w: slot size %d", ErrInvalidConfig, cfg.SlotSize)
	case cfg.PageSize < page.MinSize || cfg.PageSize > page.MaxSize || cfg.PageSize&(cfg.PageSize-1) != 0:
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, cfg.PageSize)
	case cfg.IOCapacity <= 0 || cfg.FlushBufferPages <= 0 || cfg.RecoveryReadPages <= 0:
		return fmt.Errorf("%w: io capacity, flush buffer and recovery read pages must be positive", ErrInvalidConfig)
	case cfg.CommitThreshold <= 0:
		return fmt.Errorf("%w: commit threshold must be positive", ErrInvalidConfig)
	case cfg.MoveLimitPct < 0 || cfg.MoveLimitPct > 100:
		return fmt.Errorf("%w: move limit %d%%", ErrInvalidConfig, cfg.MoveLimitPct)
	case cfg.EnableDump && cfg.DumpPath == "":
		return fmt.Errorf("%w: dumps enabled without a dump path", ErrInvalidConfig)
	}
	if err := validPercents(cfg.WriteCachePct, cfg.DoFullIOPct, cfg.WriteCacheFlushPct, cfg.FullFlushPct); err != nil {
		return err
	}
	slots := cfg.Device.Size() / int64(cfg.SlotSize)
	if slots < int64(2*cfg.PageSize/cfg.SlotSize) || slots < 2 || slots > 1<<31 {
		return fmt.Errorf("%w: device of %d bytes holds %d slots", ErrInvalidConfig, cfg.Device.Size(), slots)
	}
	if cfg.Compress {
		if _, err := codec.ByID(cfg.Codec); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func validPercents(pcts ...int) error {
	for _, p := range pcts {
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: percentage %d out of range", ErrInvalidConfig, p)
		}
	}
	return nil
}
