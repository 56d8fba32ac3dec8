package flashcache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/internal/telemetry"
	"github.com/marmos91/flashcache/pkg/bufpool"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
)

// RecoverySource is where Open rebuilt the registry from.
type RecoverySource string

const (
	SourceFresh RecoverySource = "fresh"
	SourceScan  RecoverySource = "scan"
	SourceDump  RecoverySource = "dump"
)

// RecoveryStats describes the work Open did to rebuild the registry.
type RecoveryStats struct {
	Source              RecoverySource `json:"source" yaml:"source"`
	BlocksRecovered     int            `json:"blocks_recovered" yaml:"blocks_recovered"`
	Dirty               uint64         `json:"dirty_slots" yaml:"dirty_slots"`
	DuplicatesDropped   int            `json:"duplicates_dropped" yaml:"duplicates_dropped"`
	StaleRemoved        int            `json:"stale_removed" yaml:"stale_removed"`
	DoublewriteRestored int            `json:"doublewrite_restored" yaml:"doublewrite_restored"`
	SkippedRegions      int            `json:"skipped_regions" yaml:"skipped_regions"`
	TailRecovered       int            `json:"tail_recovered" yaml:"tail_recovered"`
	Warmed              int            `json:"warmed" yaml:"warmed"`
	Duration            time.Duration  `json:"duration" yaml:"duration"`
}

// warmStart rebuilds the registry of an existing cache from the dump when it
// is usable, and by scanning the ring otherwise.
func (c *Cache) warmStart(ctx context.Context, rec fclog.Record) (RecoveryStats, error) {
	start := time.Now()
	c.write, c.flush = rec.Write, rec.Flush
	c.skipped = rec.Skipped

	var (
		stats RecoveryStats
		err   error
	)
	loaded := false
	if c.cfg.DumpPath != "" {
		loaded, stats, err = c.loadDump(ctx, rec)
		if err != nil {
			return stats, err
		}
	}
	if !loaded {
		stats, err = c.recover(ctx, rec)
		if err != nil {
			return stats, err
		}
	}
	if err := c.Validate(); err != nil {
		return stats, fmt.Errorf("recovered registry: %w", err)
	}

	c.mu.Lock()
	stats.Dirty = c.dirty
	c.mu.Unlock()
	stats.BlocksRecovered = c.reg.len()
	stats.Duration = time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordRecoveryDiscarded(stats.StaleRemoved + stats.DuplicatesDropped)
	}
	logger.Info("Flash cache recovered",
		"source", stats.Source,
		"blocks", stats.BlocksRecovered,
		"dirty_slots", stats.Dirty,
		"duplicates", stats.DuplicatesDropped,
		"stale", stats.StaleRemoved,
		"doublewrite_restored", stats.DoublewriteRestored,
		"tail", stats.TailRecovered,
		logger.DurationMs(float64(stats.Duration.Microseconds())/1000))
	return stats, nil
}

// recover rebuilds the registry by scanning the ring region the log
// describes. Running it twice over the same device yields the same registry.
func (c *Cache) recover(ctx context.Context, rec fclog.Record) (stats RecoveryStats, err error) {
	stats.Source = SourceScan
	ctx, span := telemetry.StartCacheSpan(ctx, "recover",
		telemetry.RingOffset(rec.Write.Offset), telemetry.RingRound(rec.Write.Round))
	defer func() { telemetry.End(span, err) }()

	if !rec.EnableWrite && c.cfg.Doublewrite != nil {
		if stats.DoublewriteRestored, err = c.replayDoublewrite(ctx); err != nil {
			return stats, err
		}
	}

	d := distance(rec.Write, rec.Flush, c.capacity)
	if d < 0 || d > int64(c.capacity) {
		logger.WarnCtx(ctx, "Cache log cursors inconsistent, discarding ring contents",
			logger.Distance(d), logger.Capacity(c.capacity))
		c.write = rec.Flush
		c.flush = rec.Flush
		return stats, nil
	}

	state := PendingFlush
	from, n := rec.Flush.Offset, uint32(d)
	if c.writeMode == fclog.WriteThrough {
		state = ReadCache
		from, n = rec.Write.Offset, c.capacity
	}

	found := 0
	err = c.scanRing(ctx, from, n, func(off uint32, raw []byte) uint32 {
		b, lsn, step, dropped := c.classify(off, raw, rec.Legacy())
		switch {
		case b != nil:
			b.State = state
			c.adopt(b, lsn, &stats)
			found++
		case dropped:
			stats.SkippedRegions++
		}
		return step
	})
	if err != nil {
		return stats, err
	}
	if found == 0 && stats.SkippedRegions == 0 && n > rec.Skipped+c.maxSlots && c.writeMode == fclog.WriteBack {
		return stats, fmt.Errorf("%w: %d slots from offset %d hold no block", ErrRecoveryStalled, n, from)
	}

	if c.writeMode == fclog.WriteBack {
		if err := c.recoverTail(ctx, rec, d, &stats); err != nil {
			return stats, err
		}
	} else {
		c.flush = c.write
	}

	if c.needsStalePass(rec) {
		if err := c.removeStale(ctx, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// needsStalePass reports whether blocks may be older than the tablespace:
// writes were disabled, or were re-enabled within the last ring round.
func (c *Cache) needsStalePass(rec fclog.Record) bool {
	if !rec.EnableWrite || c.cfg.SafestRecovery {
		return true
	}
	switch {
	case !rec.HasBackup():
		return false
	case rec.Write.Round > rec.Backup.Round+1:
		return false
	case rec.Write.Round == rec.Backup.Round+1 && rec.Write.Offset >= rec.Backup.Offset:
		return false
	}
	return true
}

// recoverTail picks up blocks written past the committed write cursor. Only
// blocks newer than their tablespace page are taken, so anything left from an
// earlier round is ignored. The write cursor moves to the end of the last one.
func (c *Cache) recoverTail(ctx context.Context, rec fclog.Record, d int64, stats *RecoveryStats) error {
	window := min(int64(c.cfg.CommitThreshold)+int64(c.capacity/2), int64(c.capacity)-d)
	if window <= 0 {
		return nil
	}
	var (
		end     uint32
		scanErr error
	)
	err := c.scanRing(ctx, rec.Write.Offset, uint32(window), func(off uint32, raw []byte) uint32 {
		b, lsn, step, _ := c.classify(off, raw, rec.Legacy())
		if b == nil {
			return step
		}
		tsLSN, ok, err := c.tablespaceLSN(ctx, b.Space, b.Page)
		if err != nil {
			scanErr = err
			return 0
		}
		if ok && lsn <= tsLSN {
			return step
		}
		b.State = PendingFlush
		c.adopt(b, lsn, stats)
		stats.TailRecovered++
		end = uint32((int64(off) - int64(rec.Write.Offset) + int64(c.capacity)) % int64(c.capacity))
		end += step
		return step
	})
	if scanErr != nil {
		return scanErr
	}
	if err != nil {
		return err
	}
	if end > 0 {
		c.write = advance(rec.Write, end, c.capacity)
		logger.InfoCtx(ctx, "Recovered blocks written after the last log commit",
			logger.Count(stats.TailRecovered), logger.Offset(c.write.Offset), logger.Round(c.write.Round))
	}
	return nil
}

// tablespaceLSN returns the LSN of the tablespace copy of a page; ok is false
// when the copy is missing or corrupted.
func (c *Cache) tablespaceLSN(ctx context.Context, space, pageNo uint32) (uint64, bool, error) {
	size, ok := c.store.PageSize(space)
	if !ok {
		return 0, false, nil
	}
	buf := bufpool.Get(size)
	defer bufpool.Put(buf)
	if err := c.store.ReadPage(ctx, space, pageNo, buf); err != nil {
		return 0, false, fmt.Errorf("%w: read tablespace %d:%d: %w", ErrDeviceIO, space, pageNo, err)
	}
	if c.inspect.IsCorrupted(buf) {
		return 0, false, nil
	}
	return c.inspect.LSN(buf), true, nil
}

// removeStale drops blocks whose tablespace copy is newer.
func (c *Cache) removeStale(ctx context.Context, stats *RecoveryStats) error {
	blocks := c.reg.blocks()
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Space != blocks[j].Space {
			return blocks[i].Space < blocks[j].Space
		}
		return blocks[i].Page < blocks[j].Page
	})
	for _, b := range blocks {
		lsn, err := c.blockLSN(b)
		if err != nil {
			logger.WarnCtx(ctx, "Removing unreadable cached page",
				logger.Space(b.Space), logger.Page(b.Page), logger.Offset(b.Offset), logger.Err(err))
			c.mu.Lock()
			c.removeLocked(b)
			c.mu.Unlock()
			stats.StaleRemoved++
			continue
		}
		tsLSN, ok, err := c.tablespaceLSN(ctx, b.Space, b.Page)
		if err != nil {
			return err
		}
		if !ok || tsLSN <= lsn {
			continue
		}
		c.mu.Lock()
		c.removeLocked(b)
		c.mu.Unlock()
		stats.StaleRemoved++
		logger.DebugCtx(ctx, "Removed stale cached page",
			logger.Space(b.Space), logger.Page(b.Page), logger.LSN(lsn))
	}
	return nil
}

// blockLSN returns the LSN of b's page, reading it from the device when the
// block was not found by a scan.
func (c *Cache) blockLSN(b *Block) (uint64, error) {
	if b.lsn != 0 {
		return b.lsn, nil
	}
	size, ok := c.store.PageSize(b.Space)
	if !ok {
		return 0, nil
	}
	buf := bufpool.Get(size)
	defer bufpool.Put(buf)
	if err := c.load(b, buf); err != nil {
		return 0, err
	}
	b.lsn = c.inspect.LSN(buf)
	return b.lsn, nil
}

// replayDoublewrite restores staged pages whose tablespace copy is torn or
// older.
func (c *Cache) replayDoublewrite(ctx context.Context) (int, error) {
	pages, err := c.cfg.Doublewrite.StagedPages(ctx)
	if err != nil {
		return 0, fmt.Errorf("read doublewrite area: %w", err)
	}
	restored := 0
	for _, pg := range pages {
		if c.inspect.IsCorrupted(pg) {
			continue
		}
		space, pageNo := c.inspect.SpaceID(pg), c.inspect.PageNo(pg)
		if size, ok := c.store.PageSize(space); !ok || size != len(pg) {
			continue
		}
		tsLSN, ok, err := c.tablespaceLSN(ctx, space, pageNo)
		if err != nil {
			return restored, err
		}
		if ok && tsLSN >= c.inspect.LSN(pg) {
			continue
		}
		if err := c.store.WritePage(ctx, space, pageNo, pg); err != nil {
			return restored, fmt.Errorf("%w: restore %d:%d: %w", ErrDeviceIO, space, pageNo, err)
		}
		restored++
	}
	if restored > 0 {
		if err := c.store.Sync(ctx); err != nil {
			return restored, fmt.Errorf("%w: sync tablespace: %w", ErrDeviceIO, err)
		}
		logger.InfoCtx(ctx, "Restored pages from the doublewrite area", logger.Count(restored))
	}
	return restored, nil
}

// adopt registers a block found on the device. Of two copies of a page the
// one with the higher LSN wins; on a tie the later one in ring order does.
func (c *Cache) adopt(b *Block, lsn uint64, stats *RecoveryStats) {
	b.lsn = lsn
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.reg.lookupBlock(b.Key()); old != nil {
		stats.DuplicatesDropped++
		if old.lsn > lsn {
			return
		}
		c.removeLocked(old)
	}
	if err := c.linkLocked(b); err != nil {
		logger.Warn("Dropping overlapping recovered block",
			logger.Space(b.Space), logger.Page(b.Page), logger.Offset(b.Offset), logger.Err(err))
	}
}

// classify decides what starts at slot off. It returns the block found
// there, or dropped when the slots hold a page of a dropped space, and how
// many slots to step over.
func (c *Cache) classify(off uint32, raw []byte, legacy bool) (b *Block, lsn uint64, step uint32, dropped bool) {
	if h, ok := parsePacked(raw, c.cfg.PageSize-c.slotSize); ok && int(h.size)%c.slotSize == 0 {
		slots := h.size / uint32(c.slotSize)
		size, ok := c.store.PageSize(h.space)
		if !ok {
			return nil, 0, slots, true
		}
		if int(h.orig) != size {
			return nil, 0, 1, false
		}
		blk := &Block{
			Space:          h.space,
			Page:           h.page,
			Offset:         off,
			Slots:          slots,
			CompressedSize: h.payload,
			OrigSlots:      c.slotsFor(size),
			Legacy:         legacy,
		}
		if legacy {
			blk.CompressedSize = slots
		}
		tmp := bufpool.Get(size)
		defer bufpool.Put(tmp)
		if err := c.unpack(blk, raw, tmp); err != nil {
			return nil, 0, 1, false
		}
		return blk, c.inspect.LSN(tmp), slots, false
	}

	space := c.inspect.SpaceID(raw)
	size, ok := c.store.PageSize(space)
	if !ok {
		if inferred := c.inspect.PageSize(raw); inferred > 0 {
			return nil, 0, c.slotsFor(inferred), true
		}
		return nil, 0, 1, false
	}
	if size > len(raw) || c.inspect.IsCorrupted(raw[:size]) {
		return nil, 0, 1, false
	}
	slots := c.slotsFor(size)
	return &Block{
		Space:     space,
		Page:      c.inspect.PageNo(raw),
		Offset:    off,
		Slots:     slots,
		OrigSlots: slots,
		Legacy:    legacy,
	}, c.inspect.LSN(raw), slots, false
}

// scanFunc inspects the slots starting at off. raw holds them up to the end
// of the current read batch. It returns how many slots to advance; zero
// stops the scan.
type scanFunc func(off uint32, raw []byte) uint32

// scanRing visits n slots from offset from, wrapping at the end of the ring.
// Blocks never span the end of the ring, so each side is scanned on its own.
func (c *Cache) scanRing(ctx context.Context, from, n uint32, fn scanFunc) error {
	if n == 0 {
		return nil
	}
	first := min(n, c.capacity-from)
	stopped, err := c.scanRange(ctx, from, from+first, fn)
	if err != nil || stopped || first == n {
		return err
	}
	_, err = c.scanRange(ctx, 0, n-first, fn)
	return err
}

// scanRange reads [from, to) in batches and calls fn at each step. Except in
// the last batch, fn is only called with at least two maximum-size pages of
// slots in raw, so a block is never cut by the batch boundary.
func (c *Cache) scanRange(ctx context.Context, from, to uint32, fn scanFunc) (bool, error) {
	reserve := 2 * c.maxSlots
	batch := max(uint32(c.cfg.RecoveryReadPages)*c.pageSlots, 2*reserve)
	buf := bufpool.Get(int(batch) * c.slotSize)
	defer bufpool.Put(buf)

	j := from
	for j < to {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		start := j
		end := min(j+batch, to)
		n := int(end-start) * c.slotSize
		if _, err := c.dev.ReadAt(buf[:n], int64(start)*int64(c.slotSize)); err != nil {
			return false, fmt.Errorf("%w: read slots %d-%d: %w", ErrDeviceIO, start, end, err)
		}
		limit := end
		if end < to {
			limit = end - reserve
		}
		for j < limit {
			step := fn(j, buf[int(j-start)*c.slotSize:n])
			if step == 0 {
				return true, nil
			}
			j += step
		}
	}
	return false, nil
}

// Validate checks the registry against the usage counters and the ring
// bounds. It is meant for quiescent caches: it also fails on any fence.
func (c *Cache) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.distanceLocked()
	if d < 0 || d > int64(c.capacity) {
		return fmt.Errorf("distance %d outside [0, %d]", d, c.capacity)
	}

	var used, uncompressed, dirty uint64
	var prevEnd uint32
	for _, b := range c.reg.blocks() {
		snap := c.reg.snapshot(b)
		if snap.State == Free {
			return fmt.Errorf("free block %d:%d registered at slot %d", snap.Space, snap.Page, snap.Offset)
		}
		if snap.Fence != 0 {
			return fmt.Errorf("block %d:%d at slot %d fenced %s", snap.Space, snap.Page, snap.Offset, snap.Fence)
		}
		if snap.Offset < prevEnd {
			return fmt.Errorf("block %d:%d at slot %d overlaps the previous block", snap.Space, snap.Page, snap.Offset)
		}
		if off, ok := c.reg.lookup(snap.Key()); !ok || off != snap.Offset {
			return fmt.Errorf("block %d:%d at slot %d not indexed", snap.Space, snap.Page, snap.Offset)
		}
		prevEnd = snap.Offset + snap.Slots
		used += uint64(snap.Slots)
		uncompressed += uint64(snap.OrigSlots)
		if snap.State == PendingFlush {
			dirty += uint64(snap.Slots)
		}
	}
	if used != c.used || uncompressed != c.usedUncompressed || dirty != c.dirty {
		return fmt.Errorf("counters used=%d uncompressed=%d dirty=%d, registry has %d/%d/%d",
			c.used, c.usedUncompressed, c.dirty, used, uncompressed, dirty)
	}
	if prevEnd > c.capacity {
		return fmt.Errorf("last block ends at slot %d beyond capacity %d", prevEnd, c.capacity)
	}
	return nil
}
