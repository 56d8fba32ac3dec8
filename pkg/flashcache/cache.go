package flashcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/codec"
	"github.com/marmos91/flashcache/pkg/device"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
	"github.com/marmos91/flashcache/pkg/page"
	"github.com/marmos91/flashcache/pkg/tablespace"
)

// Cache is an open flash cache. All methods are safe for concurrent use.
type Cache struct {
	cfg      Config
	dev      device.Device
	store    tablespace.Store
	log      *fclog.Log
	inspect  Inspector
	codec    codec.Codec
	metrics  Metrics
	strategy CommitStrategy

	slotSize  int
	capacity  uint32
	pageSlots uint32
	maxSlots  uint32

	reg *registry

	mu               sync.Mutex
	spaceCond        *sync.Cond
	dwCond           *sync.Cond
	write            fclog.Cursor
	flush            fclog.Cursor
	finding          bool
	used             uint64
	usedUncompressed uint64
	dirty            uint64
	skipped          uint32
	sinceCommit      uint32
	doingDoublewrite int
	writeMode        fclog.WriteMode
	enableWrite      bool
	tun              tunables
	recovery         RecoveryStats
	closed           bool

	fenceMu   sync.Mutex
	fenceCond *sync.Cond

	flushMu     sync.Mutex
	commitMu    sync.Mutex
	flushSignal chan struct{}

	stats counters
}

// tunables are the settings that may change while the cache is open.
type tunables struct {
	enableMigrate      bool
	enableMove         bool
	moveLimitPct       int
	ioCapacity         int
	writeCachePct      int
	doFullIOPct        int
	writeCacheFlushPct int
	fullFlushPct       int
}

// Open opens the cache described by cfg. It loads or creates the log,
// rebuilds the registry from the dump or by scanning the ring, and commits a
// fresh log record before returning.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Inspector == nil {
		cfg.Inspector = page.Inspector{}
	}
	if cfg.CommitStrategy == "" {
		cfg.CommitStrategy = "recovery-safe"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	strategy, err := ParseCommitStrategy(cfg.CommitStrategy)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:         cfg,
		dev:         cfg.Device,
		store:       cfg.Store,
		inspect:     cfg.Inspector,
		metrics:     cfg.Metrics,
		strategy:    strategy,
		slotSize:    cfg.SlotSize,
		capacity:    uint32(cfg.Device.Size() / int64(cfg.SlotSize)),
		enableWrite: cfg.EnableWrite,
		flushSignal: make(chan struct{}, 1),
		tun: tunables{
			enableMigrate:      cfg.EnableMigrate,
			enableMove:         cfg.EnableMove,
			moveLimitPct:       cfg.MoveLimitPct,
			ioCapacity:         cfg.IOCapacity,
			writeCachePct:      cfg.WriteCachePct,
			doFullIOPct:        cfg.DoFullIOPct,
			writeCacheFlushPct: cfg.WriteCacheFlushPct,
			fullFlushPct:       cfg.FullFlushPct,
		},
	}
	c.pageSlots = c.slotsFor(cfg.PageSize)
	c.maxSlots = c.slotsFor(page.MaxSize)
	c.reg = newRegistry(c.capacity)
	c.spaceCond = sync.NewCond(&c.mu)
	c.dwCond = sync.NewCond(&c.mu)
	c.fenceCond = sync.NewCond(&c.fenceMu)
	if cfg.Compress {
		if c.codec, err = codec.ByID(cfg.Codec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	c.log, err = fclog.Open(cfg.LogPath, fclog.Params{
		BlockSize:   uint32(cfg.SlotSize),
		PageSize:    uint32(cfg.PageSize),
		WriteMode:   cfg.WriteMode,
		Compress:    cfg.Compress,
		Codec:       uint32(cfg.Codec),
		EnableWrite: cfg.EnableWrite,
		EnableDump:  cfg.EnableDump,
	})
	if err != nil {
		if errors.Is(err, fclog.ErrConfigMismatch) {
			return nil, fmt.Errorf("%w: %w", ErrConfigMismatch, err)
		}
		return nil, err
	}
	rec := c.log.Record()
	c.writeMode = rec.WriteMode

	if err := c.start(ctx, rec); err != nil {
		_ = c.log.Close()
		return nil, err
	}

	logger.Info("Flash cache opened",
		logger.Capacity(c.capacity),
		logger.Size(uint64(c.slotSize)),
		logger.WriteMode(c.writeMode.String()),
		"source", c.recovery.Source,
		logger.Offset(c.write.Offset),
		logger.Round(c.write.Round))
	c.recordUsage()
	return c, nil
}

// start rebuilds the registry and commits the initial log record.
func (c *Cache) start(ctx context.Context, rec fclog.Record) error {
	var stats RecoveryStats
	var err error
	switch {
	case c.log.FirstUse():
		stats = RecoveryStats{Source: SourceFresh}
		if len(c.cfg.WarmupSpaces) > 0 {
			stats.Warmed, err = c.warmup(ctx)
			if err != nil {
				return err
			}
		}
	default:
		stats, err = c.warmStart(ctx, rec)
		if err != nil {
			return err
		}
	}
	c.recovery = stats

	c.mu.Lock()
	snap := c.snapshotLocked()
	c.sinceCommit = 0
	c.mu.Unlock()
	if err := c.log.Update(true, fclog.Write, snap); err != nil {
		return err
	}
	if err := c.log.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}
	c.stats.commits.Add(1)
	return nil
}

func (c *Cache) snapshotLocked() fclog.Snapshot {
	return fclog.Snapshot{Write: c.write, Flush: c.flush, EnableWrite: c.enableWrite}
}

// Close stops accepting work, flushes dirty blocks unless FastShutdown is
// set, writes the dump when enabled and commits a clean-shutdown record.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var errs []error
	if !c.cfg.FastShutdown {
		if err := c.flushAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.closed = true
	c.spaceCond.Broadcast()
	c.dwCond.Broadcast()
	c.mu.Unlock()

	if c.cfg.EnableDump {
		if err := c.dump(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.commitMu.Lock()
	c.mu.Lock()
	c.commitGateLocked(true)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if err := c.log.Update(false, fclog.UpdateShutdown, snap); err != nil {
		errs = append(errs, err)
	} else if err := c.log.Commit(); err != nil {
		errs = append(errs, err)
	}
	c.commitMu.Unlock()

	if err := c.log.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	logger.Info("Flash cache closed", logger.Offset(snap.Write.Offset), logger.Round(snap.Write.Round))
	return errors.Join(errs...)
}

// flushAll flushes until no dirty block remains or a pass makes no progress.
func (c *Cache) flushAll(ctx context.Context) error {
	for {
		c.mu.Lock()
		dirty := c.dirty
		c.mu.Unlock()
		if dirty == 0 {
			return nil
		}
		res, err := c.Flush(ctx, true)
		if err != nil {
			return err
		}
		if res.Advanced == 0 {
			logger.Warn("Shutdown flush stalled", logger.Count(int(dirty)))
			return nil
		}
	}
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Capacity returns the number of ring slots.
func (c *Cache) Capacity() uint32 { return c.capacity }

// SlotSize returns the slot size in bytes.
func (c *Cache) SlotSize() int { return c.slotSize }

// PageSize returns the page size of a tablespace space; false means it was
// dropped.
func (c *Cache) PageSize(space uint32) (int, bool) { return c.store.PageSize(space) }

// FlushSignal is signalled when producers need space or dirty pages were
// added. The background flusher selects on it.
func (c *Cache) FlushSignal() <-chan struct{} { return c.flushSignal }

// Lookup returns a copy of the block cached for (space, pageNo).
func (c *Cache) Lookup(space, pageNo uint32) (Block, bool) {
	b := c.reg.lookupBlock(Key{Space: space, Page: pageNo})
	if b == nil {
		return Block{}, false
	}
	snap := c.reg.snapshot(b)
	if snap.State == Free {
		return Block{}, false
	}
	return snap, true
}

// Blocks returns copies of every live block in ring order.
func (c *Cache) Blocks() []Block {
	bs := c.reg.blocks()
	out := make([]Block, 0, len(bs))
	for _, b := range bs {
		if snap := c.reg.snapshot(b); snap.State != Free {
			out = append(out, snap)
		}
	}
	return out
}

// WriteEnabled reports whether writes are cached.
func (c *Cache) WriteEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enableWrite
}

// SetWriteEnabled toggles write caching and commits the log. Re-enabling
// records the write cursor as the backup marker, so a later recovery knows
// which blocks may be older than the tablespace.
func (c *Cache) SetWriteEnabled(enabled bool) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	was := c.enableWrite
	c.enableWrite = enabled
	if was == enabled {
		c.mu.Unlock()
		return nil
	}
	c.commitGateLocked(true)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	kind := fclog.Write
	if enabled {
		kind = fclog.UpdateWrite
	}
	if err := c.log.Update(false, kind, snap); err != nil {
		return err
	}
	if err := c.log.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}
	c.stats.commits.Add(1)
	logger.Warn("Flash cache write caching changed", "enabled", enabled)
	return nil
}

// SetMigrate enables or disables migration of clean evicted pages.
func (c *Cache) SetMigrate(enabled bool) {
	c.mu.Lock()
	c.tun.enableMigrate = enabled
	c.mu.Unlock()
}

// SetMove enables or disables moving cached pages ahead of reclamation.
func (c *Cache) SetMove(enabled bool) {
	c.mu.Lock()
	c.tun.enableMove = enabled
	c.mu.Unlock()
}

// FlushTuning are the flush bands that may change at runtime.
type FlushTuning struct {
	IOCapacity         int
	WriteCachePct      int
	DoFullIOPct        int
	WriteCacheFlushPct int
	FullFlushPct       int
}

// SetFlushTuning replaces the flush bands.
func (c *Cache) SetFlushTuning(t FlushTuning) error {
	if t.IOCapacity <= 0 {
		return fmt.Errorf("%w: io capacity %d", ErrInvalidConfig, t.IOCapacity)
	}
	if err := validPercents(t.WriteCachePct, t.DoFullIOPct, t.WriteCacheFlushPct, t.FullFlushPct); err != nil {
		return err
	}
	c.mu.Lock()
	c.tun.ioCapacity = t.IOCapacity
	c.tun.writeCachePct = t.WriteCachePct
	c.tun.doFullIOPct = t.DoFullIOPct
	c.tun.writeCacheFlushPct = t.WriteCacheFlushPct
	c.tun.fullFlushPct = t.FullFlushPct
	c.mu.Unlock()
	return nil
}

// CommitLog persists the cursors unless the commit strategy defers it.
func (c *Cache) CommitLog() error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.commitLog(false)
}

// commitLog snapshots the cursors and commits them. The snapshot is taken
// in the same critical section that checks the commit gate, so it never
// covers a batch whose device writes are in flight. With wait false a
// closed gate defers the commit; with wait true the commit waits for it.
func (c *Cache) commitLog(wait bool) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		// The shutdown record supersedes it.
		c.mu.Unlock()
		return nil
	}
	if !c.commitGateLocked(wait) {
		c.mu.Unlock()
		logger.Debug("Log commit deferred, batch in flight")
		return nil
	}
	snap := c.snapshotLocked()
	skipped := c.skipped
	c.sinceCommit = 0
	c.mu.Unlock()

	if err := c.log.Update(false, fclog.Write, snap); err != nil {
		return err
	}
	if err := c.log.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}
	if skipped > 0 {
		if err := c.log.CommitSkipped(skipped); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceIO, err)
		}
	}
	c.stats.commits.Add(1)
	return nil
}

// maybeCommit commits once enough slots were written since the last commit.
func (c *Cache) maybeCommit() error {
	c.mu.Lock()
	due := c.sinceCommit >= uint32(c.cfg.CommitThreshold)
	c.mu.Unlock()
	if !due {
		return nil
	}
	return c.commitLog(false)
}

// LogRecord returns a copy of the in-memory log record.
func (c *Cache) LogRecord() fclog.Record {
	return c.log.Record()
}
