package flashcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/page"
	"github.com/marmos91/flashcache/pkg/tablespace"
)

// ReadRequest is an asynchronous page read.
type ReadRequest struct {
	done chan struct{}
	hit  bool
	err  error
}

// Wait blocks until the read completes and reports whether the cache served
// it.
func (r *ReadRequest) Wait() (bool, error) {
	<-r.done
	return r.hit, r.err
}

// Done is closed when the read completes.
func (r *ReadRequest) Done() <-chan struct{} { return r.done }

// ReadPage fills buf with the page, from the cache when it holds a valid copy
// and from the tablespace otherwise. hit reports which. A page of a dropped
// space reads as zeros with no error.
//
// sync is a hint; ReadPage always returns a completed read. Insert-buffer
// bitmap and transaction-system header pages are always read synchronously.
func (c *Cache) ReadPage(ctx context.Context, space, pageNo uint32, buf []byte, sync bool) (bool, error) {
	if sync || c.forceSync(space, pageNo) {
		return c.readPage(ctx, space, pageNo, buf)
	}
	return c.ReadPageAsync(ctx, space, pageNo, buf).Wait()
}

// ReadPageAsync starts a read of the page into buf. buf must not be touched
// until the request completes. Pages that must be read synchronously complete
// before ReadPageAsync returns.
func (c *Cache) ReadPageAsync(ctx context.Context, space, pageNo uint32, buf []byte) *ReadRequest {
	r := &ReadRequest{done: make(chan struct{})}
	if c.forceSync(space, pageNo) {
		r.hit, r.err = c.readPage(ctx, space, pageNo, buf)
		close(r.done)
		return r
	}
	go func() {
		defer close(r.done)
		r.hit, r.err = c.readPage(ctx, space, pageNo, buf)
	}()
	return r
}

func (c *Cache) forceSync(space, pageNo uint32) bool {
	size, _ := c.store.PageSize(space)
	return page.IsIbufBitmap(pageNo, size) || page.IsTrxSysHeader(space, pageNo)
}

func (c *Cache) readPage(ctx context.Context, space, pageNo uint32, buf []byte) (bool, error) {
	if c.isClosed() {
		return false, ErrClosed
	}
	start := time.Now()
	c.stats.reads.Add(1)

	size, ok := c.store.PageSize(space)
	if !ok {
		clear(buf)
		c.observeRead(ReadDropped, start)
		return false, nil
	}
	if len(buf) != size {
		return false, fmt.Errorf("%w: %d:%d buffer of %d bytes, space uses %d", ErrInvalidPage, space, pageNo, len(buf), size)
	}

	if b, snap, ok := c.acquire(Key{Space: space, Page: pageNo}, ReadInFlight|DoubleWriteInFlight|FlushInFlight, ReadInFlight); ok {
		err := c.load(&snap, buf)
		switch {
		case err == nil:
			c.release(b, ReadInFlight)
			c.stats.readHits.Add(1)
			c.observeRead(ReadHit, start)
			return true, nil
		case errors.Is(err, ErrCorrupted):
			c.stats.corruptionDetected.Add(1)
			logger.Error("Corrupted cached page, reading tablespace",
				logger.Space(space), logger.Page(pageNo), logger.Offset(snap.Offset), logger.Err(err))
			if !c.discardCorrupt(b) {
				c.release(b, ReadInFlight)
			}
			c.observeRead(ReadCorrupt, start)
		default:
			c.release(b, ReadInFlight)
			logger.Error("Cache device read failed",
				logger.Space(space), logger.Page(pageNo), logger.Offset(snap.Offset), logger.Err(err))
			return false, err
		}
	}

	if err := c.store.ReadPage(ctx, space, pageNo, buf); err != nil {
		if errors.Is(err, tablespace.ErrSpaceDropped) {
			clear(buf)
			return false, nil
		}
		return false, fmt.Errorf("read tablespace %d:%d: %w", space, pageNo, err)
	}
	c.observeRead(ReadMiss, start)
	return false, nil
}

// discardCorrupt drops a block whose copy failed its checksum. A block a
// flush claimed after the read began is left to that flush, and false is
// returned.
func (c *Cache) discardCorrupt(b *Block) bool {
	c.mu.Lock()
	c.reg.lockSlot(b.Offset)
	claimed := b.Fence.Has(FlushInFlight)
	c.reg.unlockSlot(b.Offset)
	if !claimed {
		c.removeLocked(b)
		c.spaceCond.Broadcast()
	}
	c.mu.Unlock()
	if !claimed {
		c.wakeFenceWaiters()
	}
	return !claimed
}

func (c *Cache) observeRead(result string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveRead(result, time.Since(start))
	}
}

// ReadBlock reads the page held by b into buf if b is still the dirty copy
// of its page at the same slot. ok is false when it moved on.
func (c *Cache) ReadBlock(ctx context.Context, b Block, buf []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	live, snap, ok := c.acquire(b.Key(), ReadInFlight|DoubleWriteInFlight, ReadInFlight)
	if !ok {
		return false, nil
	}
	defer c.release(live, ReadInFlight)
	if snap.Offset != b.Offset || snap.State != PendingFlush {
		return false, nil
	}
	size, ok := c.store.PageSize(b.Space)
	if !ok {
		return false, nil
	}
	if len(buf) != size {
		return false, fmt.Errorf("%w: %d:%d buffer of %d bytes, space uses %d", ErrInvalidPage, b.Space, b.Page, len(buf), size)
	}
	if err := c.load(&snap, buf); err != nil {
		return false, err
	}
	return true, nil
}

// DirtyBlocks returns copies of the blocks awaiting flush, from the flush
// cursor to the write cursor.
func (c *Cache) DirtyBlocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.distanceLocked()
	var out []Block
	pos := c.flush.Offset
	for i := int64(0); i < d; i++ {
		if b := c.reg.at(pos); b != nil {
			if snap := c.reg.snapshot(b); snap.State == PendingFlush {
				out = append(out, snap)
			}
		}
		pos++
		if pos == c.capacity {
			pos = 0
		}
	}
	return out
}
