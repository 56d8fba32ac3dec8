package flashcache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
)

// placed is a block inserted at the write cursor whose device write is
// pending.
type placed struct {
	blk *Block
	pk  packed
}

// WritePage caches a single dirty page. The page is durable on the device
// when WritePage returns.
func (c *Cache) WritePage(ctx context.Context, pg []byte) error {
	return c.writeBatch(ctx, [][]byte{pg}, SourceSingle)
}

// WriteBatch caches a double-write batch. Every page is placed in the ring,
// written concurrently, and synced once.
//
// With writes disabled the batch instead invalidates any cached copy of its
// pages; the caller is expected to write them to the tablespace itself.
func (c *Cache) WriteBatch(ctx context.Context, pages [][]byte) error {
	return c.writeBatch(ctx, pages, SourceDoublewrite)
}

func (c *Cache) writeBatch(ctx context.Context, pages [][]byte, source string) error {
	c.mu.Lock()
	closed, enabled := c.closed, c.enableWrite
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !enabled {
		return c.invalidate(pages)
	}
	pages = c.newest(pages)
	if len(pages) == 0 {
		return nil
	}
	if uint64(len(pages))*uint64(c.pageSlots) > uint64(c.capacity/2) {
		return fmt.Errorf("%w: batch of %d pages exceeds half the ring", ErrInvalidPage, len(pages))
	}

	if err := c.strategy.beginBatch(c); err != nil {
		return err
	}
	err := c.writePlaced(ctx, pages, source)
	c.strategy.endBatch(c)
	if err != nil {
		return err
	}
	c.signalFlush()
	c.recordUsage()
	return c.maybeCommit()
}

// newest drops all but the newest copy of each page in a batch.
func (c *Cache) newest(pages [][]byte) [][]byte {
	if len(pages) < 2 {
		return pages
	}
	idx := make(map[Key]int, len(pages))
	out := make([][]byte, 0, len(pages))
	for _, pg := range pages {
		k := Key{Space: c.inspect.SpaceID(pg), Page: c.inspect.PageNo(pg)}
		if i, ok := idx[k]; ok {
			if c.inspect.LSN(pg) >= c.inspect.LSN(out[i]) {
				out[i] = pg
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, pg)
	}
	return out
}

func (c *Cache) writePlaced(ctx context.Context, pages [][]byte, source string) error {
	state := PendingFlush
	if c.writeMode == fclog.WriteThrough {
		state = ReadCache
	}

	jobs := make([]placed, 0, len(pages))
	defer func() {
		for i := range jobs {
			jobs[i].pk.free()
		}
	}()

	var bytes int64
	for _, pg := range pages {
		space, pageNo := c.inspect.SpaceID(pg), c.inspect.PageNo(pg)
		size, ok := c.store.PageSize(space)
		if !ok {
			logger.Debug("Skipping write for dropped space", logger.Space(space), logger.Page(pageNo))
			continue
		}
		if len(pg) != size {
			c.abort(jobs)
			return fmt.Errorf("%w: %d:%d is %d bytes, space uses %d", ErrInvalidPage, space, pageNo, len(pg), size)
		}
		pk, err := c.pack(pg, space, pageNo)
		if err != nil {
			c.abort(jobs)
			return err
		}
		b := &Block{
			Space:          space,
			Page:           pageNo,
			Slots:          pk.slots,
			CompressedSize: pk.compressedSize,
			OrigSlots:      pk.origSlots,
			State:          state,
			Fence:          DoubleWriteInFlight,
		}
		if err := c.place(b, reserveWait, nil); err != nil {
			pk.free()
			c.abort(jobs)
			return err
		}
		jobs = append(jobs, placed{blk: b, pk: pk})
		bytes += int64(len(pk.buf))
	}
	if len(jobs) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range jobs {
		j := &jobs[i]
		g.Go(func() error {
			off := int64(j.blk.Offset) * int64(c.slotSize)
			if _, err := c.dev.WriteAt(j.pk.buf, off); err != nil {
				logger.Error("Cache device write failed",
					logger.Space(j.blk.Space), logger.Page(j.blk.Page), logger.Offset(j.blk.Offset), logger.Err(err))
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = c.dev.Sync()
	}
	if err != nil {
		c.abort(jobs)
		return fmt.Errorf("%w: write batch of %d pages: %w", ErrDeviceIO, len(jobs), err)
	}

	for _, j := range jobs {
		c.release(j.blk, DoubleWriteInFlight)
	}
	if source == SourceSingle {
		c.stats.singlePages.Add(uint64(len(jobs)))
	} else {
		c.stats.doublewritePages.Add(uint64(len(jobs)))
	}
	if c.metrics != nil {
		c.metrics.ObserveWrite(source, len(jobs), bytes)
	}
	return nil
}

// place inserts b at the write cursor, replacing any older copy of its page.
// Room is found before the older copy is claimed, so that copy stays readable
// and flushable while the writer waits; the two are then swapped in one
// registry step. b keeps the fences it was created with. A non-nil replace
// decides whether an existing copy may be replaced; errSkipped is returned
// when it may not.
func (c *Cache) place(b *Block, mode reserveMode, replace func(old Block) bool) error {
	k := b.Key()
	claim := mode
	if mode == reserveWait {
		claim = reserveClaim
	}
	for {
		c.mu.Lock()
		_, err := c.reserveLocked(b.Slots, mode, nil)
		c.mu.Unlock()
		if err != nil {
			return err
		}

		old, oldSnap, found := c.acquire(k, ReadInFlight|DoubleWriteInFlight|FlushInFlight, DoubleWriteInFlight)
		if found && replace != nil && !replace(oldSnap) {
			c.release(old, DoubleWriteInFlight)
			return errSkipped
		}

		c.mu.Lock()
		off, err := c.reserveLocked(b.Slots, claim, old)
		if err == nil {
			b.Offset = off
			err = c.insertLocked(b, old)
		}
		c.mu.Unlock()

		switch {
		case err == nil:
			if found {
				if oldSnap.State == PendingFlush {
					c.stats.merged.Add(1)
				}
				c.wakeFenceWaiters()
			}
			return nil
		case found:
			c.release(old, DoubleWriteInFlight)
		}
		// Room taken by another writer, or the page placed by one, between
		// the wait and the claim.
		if errors.Is(err, ErrDuplicateBlock) || (errors.Is(err, errNoSpace) && mode == reserveWait) {
			continue
		}
		return err
	}
}

// abort removes blocks whose device write did not complete.
func (c *Cache) abort(jobs []placed) {
	if len(jobs) == 0 {
		return
	}
	c.mu.Lock()
	for _, j := range jobs {
		c.removeLocked(j.blk)
	}
	c.spaceCond.Broadcast()
	c.mu.Unlock()
	c.wakeFenceWaiters()
}

func (c *Cache) wakeFenceWaiters() {
	c.fenceMu.Lock()
	c.fenceCond.Broadcast()
	c.fenceMu.Unlock()
}

// invalidate drops the cached copies of pages.
func (c *Cache) invalidate(pages [][]byte) error {
	for _, pg := range pages {
		if err := c.Invalidate(c.inspect.SpaceID(pg), c.inspect.PageNo(pg)); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate removes the cached copy of a page, waiting for I/O on it.
func (c *Cache) Invalidate(space, pageNo uint32) error {
	if c.isClosed() {
		return ErrClosed
	}
	b, _, ok := c.acquire(Key{Space: space, Page: pageNo}, ReadInFlight|DoubleWriteInFlight|FlushInFlight, DoubleWriteInFlight)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.removeLocked(b)
	c.spaceCond.Broadcast()
	c.mu.Unlock()
	c.wakeFenceWaiters()
	c.stats.invalidated.Add(1)
	logger.Debug("Cached page invalidated", logger.Space(space), logger.Page(pageNo))
	return nil
}
