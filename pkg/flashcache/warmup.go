package flashcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/bufpool"
	"github.com/marmos91/flashcache/pkg/page"
)

// warmup copies the index and inode pages of cfg.WarmupSpaces into a new
// cache as read-only blocks. Each space is read from page 0 until the first
// all-zero page. Warmup stops when the ring reaches the end of its first lap.
// Called from Open before the cache is shared.
func (c *Cache) warmup(ctx context.Context) (int, error) {
	warmed := 0
	for _, space := range c.cfg.WarmupSpaces {
		n, full, err := c.warmupSpace(ctx, space)
		warmed += n
		if err != nil {
			return warmed, err
		}
		if full {
			logger.InfoCtx(ctx, "Cache full, warmup stopped", logger.Space(space), "pages", warmed)
			break
		}
	}
	if err := c.dev.Sync(); err != nil {
		return warmed, fmt.Errorf("%w: warmup sync: %w", ErrDeviceIO, err)
	}
	return warmed, nil
}

func (c *Cache) warmupSpace(ctx context.Context, space uint32) (n int, full bool, err error) {
	size, ok := c.store.PageSize(space)
	if !ok {
		logger.DebugCtx(ctx, "Skipping warmup of dropped space", logger.Space(space))
		return 0, false, nil
	}
	buf := bufpool.Get(size)
	defer bufpool.Put(buf)

	logger.InfoCtx(ctx, "Warming up tablespace", logger.Space(space))
	for pageNo := uint32(0); ; pageNo++ {
		if err := ctx.Err(); err != nil {
			return n, false, err
		}
		if c.lapDone() {
			return n, true, nil
		}
		if err := c.store.ReadPage(ctx, space, pageNo, buf); err != nil {
			return n, false, fmt.Errorf("warmup read %d:%d: %w", space, pageNo, err)
		}
		if page.IsZero(buf) {
			return n, false, nil
		}
		if t := c.inspect.Type(buf); t != page.TypeIndex && t != page.TypeInode {
			continue
		}
		if _, cached := c.reg.lookup(Key{Space: space, Page: pageNo}); cached {
			continue
		}

		placed, err := c.warmPage(buf, space, pageNo)
		if errors.Is(err, errNoSpace) {
			return n, true, nil
		}
		if err != nil {
			return n, false, err
		}
		if placed {
			n++
			if n%c.cfg.RecoveryReadPages == 0 {
				if err := c.dev.Sync(); err != nil {
					return n, false, fmt.Errorf("%w: warmup sync: %w", ErrDeviceIO, err)
				}
			}
		}
	}
}

// lapDone reports whether the next page would not fit before the ring wraps.
func (c *Cache) lapDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write.Round > 0 || c.write.Offset+c.pageSlots > c.capacity
}

// warmPage writes pg at the write cursor as a ReadCache block and moves the
// flush cursor with it, so the block never counts as unflushed.
func (c *Cache) warmPage(pg []byte, space, pageNo uint32) (bool, error) {
	pk, err := c.pack(pg, space, pageNo)
	if err != nil {
		return false, err
	}
	defer pk.free()

	b := &Block{
		Space:          space,
		Page:           pageNo,
		Slots:          pk.slots,
		CompressedSize: pk.compressedSize,
		OrigSlots:      pk.origSlots,
		State:          ReadCache,
		Fence:          DoubleWriteInFlight,
	}
	if err := c.place(b, reserveTry, func(Block) bool { return false }); err != nil {
		if errors.Is(err, errSkipped) {
			return false, nil
		}
		return false, err
	}
	c.mu.Lock()
	c.flush = c.write
	c.mu.Unlock()

	if _, err := c.dev.WriteAt(pk.buf, int64(b.Offset)*int64(c.slotSize)); err != nil {
		c.abort([]placed{{blk: b}})
		logger.Error("Cache device write failed",
			logger.Space(space), logger.Page(pageNo), logger.Offset(b.Offset), logger.Err(err))
		return false, fmt.Errorf("%w: warmup %d:%d: %w", ErrDeviceIO, space, pageNo, err)
	}
	c.release(b, DoubleWriteInFlight)
	return true, nil
}
