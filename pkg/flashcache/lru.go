package flashcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/page"
)

// LRUAction is what OnEvict did with a page.
type LRUAction int

const (
	LRUNone LRUAction = iota
	// LRUMigrated means the page was copied into the cache.
	LRUMigrated
	// LRUMoved means the cached copy was rewritten at the write cursor.
	LRUMoved
)

func (a LRUAction) String() string {
	switch a {
	case LRUMigrated:
		return "migrated"
	case LRUMoved:
		return "moved"
	default:
		return "none"
	}
}

// OnEvict is called by the buffer pool when it evicts a page. Clean index
// and inode pages that are not cached are migrated into the cache; cached
// clean copies about to be overwritten by the ring are moved to the write
// cursor. Both give up rather than wait for space.
func (c *Cache) OnEvict(ctx context.Context, pg []byte, modified bool) (LRUAction, error) {
	if c.isClosed() {
		return LRUNone, ErrClosed
	}
	if modified {
		return LRUNone, nil
	}
	if t := c.inspect.Type(pg); t != page.TypeIndex && t != page.TypeInode {
		return LRUNone, nil
	}
	space, pageNo := c.inspect.SpaceID(pg), c.inspect.PageNo(pg)
	size, ok := c.store.PageSize(space)
	if !ok {
		return LRUNone, nil
	}
	if len(pg) != size {
		return LRUNone, fmt.Errorf("%w: %d:%d is %d bytes, space uses %d", ErrInvalidPage, space, pageNo, len(pg), size)
	}

	c.mu.Lock()
	tun := c.tun
	c.mu.Unlock()

	cached, ok := c.Lookup(space, pageNo)
	switch {
	case !ok && tun.enableMigrate:
		return c.lruWrite(ctx, pg, space, pageNo, LRUMigrated, func(Block) bool { return false })
	case ok && tun.enableMove && c.needsMove(cached, tun.moveLimitPct):
		return c.lruWrite(ctx, pg, space, pageNo, LRUMoved, func(old Block) bool {
			return old.State == Flushed || old.State == ReadCache
		})
	}
	return LRUNone, nil
}

// needsMove reports whether b is clean and far enough behind the write
// cursor that the ring will soon reclaim it.
func (c *Cache) needsMove(b Block, limitPct int) bool {
	if b.State != Flushed && b.State != ReadCache {
		return false
	}
	c.mu.Lock()
	w := c.write.Offset
	c.mu.Unlock()
	behind := (uint64(w) + uint64(c.capacity) - uint64(b.Offset)) % uint64(c.capacity)
	return behind*100 >= uint64(c.capacity)*uint64(limitPct)
}

func (c *Cache) lruWrite(ctx context.Context, pg []byte, space, pageNo uint32, action LRUAction, replace func(Block) bool) (LRUAction, error) {
	source := SourceMigrate
	if action == LRUMoved {
		source = SourceMove
	}
	if !c.strategy.admitLRU(c, action == LRUMoved) {
		return LRUNone, nil
	}
	act, err := c.lruPlace(ctx, pg, space, pageNo, action, replace)
	c.strategy.endBatch(c)
	if err != nil || act == LRUNone {
		return act, err
	}

	if action == LRUMoved {
		c.stats.moved.Add(1)
	} else {
		c.stats.migrated.Add(1)
	}
	if c.metrics != nil {
		c.metrics.ObserveWrite(source, 1, int64(len(pg)))
	}
	logger.Debug("Page "+action.String(), logger.Space(space), logger.Page(pageNo))
	return act, c.maybeCommit()
}

func (c *Cache) lruPlace(ctx context.Context, pg []byte, space, pageNo uint32, action LRUAction, replace func(Block) bool) (LRUAction, error) {
	if err := ctx.Err(); err != nil {
		return LRUNone, err
	}
	pk, err := c.pack(pg, space, pageNo)
	if err != nil {
		return LRUNone, err
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
	if err := c.place(b, reserveTry, replace); err != nil {
		if errors.Is(err, errNoSpace) || errors.Is(err, errSkipped) {
			return LRUNone, nil
		}
		return LRUNone, err
	}

	_, err = c.dev.WriteAt(pk.buf, int64(b.Offset)*int64(c.slotSize))
	if err == nil {
		err = c.dev.Sync()
	}
	if err != nil {
		c.abort([]placed{{blk: b}})
		logger.Error("Cache device write failed",
			logger.Space(space), logger.Page(pageNo), logger.Offset(b.Offset), logger.Err(err))
		return LRUNone, fmt.Errorf("%w: %s %d:%d: %w", ErrDeviceIO, action, space, pageNo, err)
	}
	c.release(b, DoubleWriteInFlight)
	return action, nil
}
