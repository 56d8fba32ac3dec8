package flashcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/internal/telemetry"
	"github.com/marmos91/flashcache/pkg/bufpool"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
	"github.com/marmos91/flashcache/pkg/tablespace"
)

// FlushResult summarizes one flush pass.
type FlushResult struct {
	// Target is the number of slots the pass aimed to reclaim.
	Target uint32
	// Advanced is the number of slots the flush cursor moved.
	Advanced uint32
	// Pages is the number of pages written to the tablespace.
	Pages int
	// Dropped is the number of dirty pages discarded because their space
	// was dropped.
	Dropped  int
	Duration time.Duration
}

// Flush runs one flush pass. It writes dirty blocks from the flush cursor
// onward to the tablespace, syncs it, and advances the flush cursor past
// every block it reconciled.
//
// How far the pass goes depends on how full the ring is. force flushes at
// full I/O capacity regardless of fill.
//
// A corrupted dirty block is fatal: the cache holds the only copy.
func (c *Cache) Flush(ctx context.Context, force bool) (res FlushResult, err error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	start := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return res, ErrClosed
	}
	d := c.distanceLocked()
	res.Target = c.flushTargetLocked(d, force)
	if res.Target == 0 {
		c.mu.Unlock()
		return res, nil
	}
	jobs, walked, dropped := c.collectLocked(d, res.Target)
	c.mu.Unlock()
	res.Dropped = dropped

	ctx, span := telemetry.StartCacheSpan(ctx, "flush",
		telemetry.FlushTarget(res.Target), telemetry.Distance(d), telemetry.Force(force))
	defer func() { telemetry.End(span, err) }()

	res.Pages, err = c.writeBack(ctx, jobs)
	if err == nil {
		if serr := c.store.Sync(ctx); serr != nil {
			err = fmt.Errorf("%w: sync tablespace: %w", ErrDeviceIO, serr)
		}
	}
	if err != nil {
		c.restoreDirty(jobs)
		return res, err
	}

	c.mu.Lock()
	for _, b := range jobs {
		c.reg.lockSlot(b.Offset)
		b.Fence &^= FlushInFlight
		c.reg.unlockSlot(b.Offset)
	}
	res.Advanced = uint32(min(int64(walked), d))
	c.advanceFlushLocked(res.Advanced)
	c.spaceCond.Broadcast()
	c.mu.Unlock()
	c.wakeFenceWaiters()

	res.Duration = time.Since(start)
	c.stats.flushPasses.Add(1)
	c.stats.flushedPages.Add(uint64(res.Pages))
	if c.metrics != nil {
		c.metrics.ObserveFlush(res.Pages, res.Duration)
	}
	c.recordUsage()
	logger.DebugCtx(ctx, "Flush pass",
		logger.Count(res.Pages),
		logger.Slots(res.Advanced),
		logger.Distance(d),
		logger.DurationMs(float64(res.Duration.Microseconds())/1000))
	return res, nil
}

// flushTargetLocked returns how many slots a pass should reclaim.
func (c *Cache) flushTargetLocked(d int64, force bool) uint32 {
	if d <= 0 {
		return 0
	}
	if c.writeMode == fclog.WriteThrough {
		return uint32(d)
	}
	pct := d * 100 / int64(c.capacity)
	io := int64(c.tun.ioCapacity) * int64(c.pageSlots)
	var n int64
	switch {
	case pct < int64(c.tun.writeCachePct) && !force:
		return 0
	case pct < int64(c.tun.doFullIOPct) && !force:
		n = io * int64(c.tun.writeCacheFlushPct) / 100
	default:
		n = io * int64(c.tun.fullFlushPct) / 100
	}
	n = max(n, int64(c.pageSlots))
	return uint32(min(n, d))
}

// collectLocked walks from the flush cursor and claims dirty blocks for the
// pass. Clean blocks are stepped over. The walk stops at a block whose
// double-write has not completed, or when the flush buffer is full. It
// returns the claimed blocks and the slots walked.
func (c *Cache) collectLocked(d int64, target uint32) ([]*Block, uint32, int) {
	limit := uint32(c.cfg.FlushBufferPages) * c.pageSlots
	var (
		jobs     []*Block
		walked   uint32
		jobSlots uint32
		dropped  int
	)
	pos := c.flush.Offset
	for walked < target && int64(walked) < d {
		b := c.reg.at(pos)
		if b == nil {
			walked++
			pos = (pos + 1) % c.capacity
			continue
		}

		c.reg.lockSlot(pos)
		if b.State == PendingFlush {
			if b.Fence.Has(DoubleWriteInFlight) || (len(jobs) > 0 && jobSlots+b.Slots > limit) {
				c.reg.unlockSlot(pos)
				break
			}
			b.State = Flushed
			c.dirty -= uint64(b.Slots)
			if _, ok := c.store.PageSize(b.Space); ok {
				b.Fence |= FlushInFlight
				jobs = append(jobs, b)
				jobSlots += b.Slots
			} else {
				dropped++
				logger.Debug("Discarding dirty page of dropped space",
					logger.Space(b.Space), logger.Page(b.Page), logger.Offset(b.Offset))
			}
		}
		c.reg.unlockSlot(pos)
		walked += b.Slots
		pos = (pos + b.Slots) % c.capacity
	}
	return jobs, walked, dropped
}

// writeBack copies the claimed blocks to the tablespace.
func (c *Cache) writeBack(ctx context.Context, jobs []*Block) (int, error) {
	pages := 0
	for _, b := range jobs {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		size, ok := c.store.PageSize(b.Space)
		if !ok {
			continue
		}
		snap := c.reg.snapshot(b)
		if snap.State == Free {
			// Evicted since it was claimed.
			continue
		}
		pg := bufpool.Get(size)
		err := c.load(&snap, pg)
		if err == nil {
			err = c.store.WritePage(ctx, b.Space, b.Page, pg)
			if errors.Is(err, tablespace.ErrSpaceDropped) {
				err = nil
				pages--
			}
		}
		bufpool.Put(pg)
		if err != nil {
			logger.ErrorCtx(ctx, "Flush failed",
				logger.Space(b.Space), logger.Page(b.Page), logger.Offset(b.Offset), logger.Err(err))
			if errors.Is(err, ErrCorrupted) || errors.Is(err, ErrDeviceIO) {
				return pages, err
			}
			return pages, fmt.Errorf("%w: write tablespace %d:%d: %w", ErrDeviceIO, b.Space, b.Page, err)
		}
		pages++
	}
	return pages, nil
}

// restoreDirty returns claimed blocks to PendingFlush after a failed pass.
func (c *Cache) restoreDirty(jobs []*Block) {
	c.mu.Lock()
	for _, b := range jobs {
		c.reg.lockSlot(b.Offset)
		if b.State == Flushed {
			b.State = PendingFlush
			c.dirty += uint64(b.Slots)
		}
		b.Fence &^= FlushInFlight
		c.reg.unlockSlot(b.Offset)
	}
	c.mu.Unlock()
	c.wakeFenceWaiters()
}
