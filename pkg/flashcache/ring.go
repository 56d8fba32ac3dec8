package flashcache

import (
	"errors"

	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
)

var (
	// errNoSpace is returned to migrate and move when they must not wait.
	errNoSpace = errors.New("no space without waiting")

	// errSkipped is returned when an existing copy must not be replaced.
	errSkipped = errors.New("existing copy kept")
)

type reserveMode int

const (
	// reserveWait blocks until space is found.
	reserveWait reserveMode = iota
	// reserveTry gives up instead of waiting and keeps twice the reserve.
	reserveTry
	// reserveClaim gives up instead of waiting. It follows a reserveWait
	// that found room, once the writer holds the page's older copy.
	reserveClaim
)

func advance(cur fclog.Cursor, n, capacity uint32) fclog.Cursor {
	off := uint64(cur.Offset) + uint64(n)
	cur.Round += uint32(off / uint64(capacity))
	cur.Offset = uint32(off % uint64(capacity))
	return cur
}

func distance(write, flush fclog.Cursor, capacity uint32) int64 {
	return (int64(write.Round)-int64(flush.Round))*int64(capacity) +
		int64(write.Offset) - int64(flush.Offset)
}

func (c *Cache) distanceLocked() int64 {
	return distance(c.write, c.flush, c.capacity)
}

func (c *Cache) availableLocked() int64 {
	return int64(c.capacity) - c.distanceLocked()
}

// lowWater is the number of slots producers leave free for the flusher.
func (c *Cache) lowWater() uint32 {
	return min(uint32(c.cfg.ReservePages)*c.pageSlots, c.capacity/4)
}

func (c *Cache) advanceWriteLocked(n uint32) {
	c.write = advance(c.write, n, c.capacity)
	if c.writeMode == fclog.WriteThrough {
		c.flush = c.write
	}
}

func (c *Cache) advanceFlushLocked(n uint32) {
	c.flush = advance(c.flush, n, c.capacity)
}

// reserveLocked finds need contiguous slots at the write cursor, evicting
// clean occupants. It returns the first slot; the caller advances the write
// cursor once the block is inserted. own, when not nil, is the older copy
// the caller holds; it may lie in the range and is left for insertLocked.
// Called with c.mu held; reserveWait may release it while waiting.
func (c *Cache) reserveLocked(need uint32, mode reserveMode, own *Block) (uint32, error) {
	headroom := int64(c.lowWater())
	if mode == reserveTry {
		headroom *= 2
	}
	for {
		if c.closed {
			return 0, ErrClosed
		}
		if mode == reserveTry && c.finding {
			return 0, errNoSpace
		}

		w := c.write.Offset
		var skip uint32
		if w+need > c.capacity {
			skip = c.capacity - w
		}
		if c.availableLocked() < int64(need+skip)+headroom {
			if mode != reserveWait {
				return 0, errNoSpace
			}
			c.signalFlush()
			c.spaceCond.Wait()
			continue
		}

		n := need
		if skip > 0 {
			n = skip
		}
		if !c.evictRangeLocked(w, n, own) {
			if mode != reserveWait {
				return 0, errNoSpace
			}
			c.finding = true
			c.signalFlush()
			c.spaceCond.Wait()
			continue
		}

		if skip > 0 {
			c.skipped += skip
			c.advanceWriteLocked(skip)
			continue
		}
		if mode == reserveWait {
			c.finding = false
		}
		return w, nil
	}
}

// evictRangeLocked evicts every block starting in [start, start+n). It stops
// at the first dirty or fenced occupant and reports whether the range is
// clear. own is stepped over. Called with c.mu held.
func (c *Cache) evictRangeLocked(start, n uint32, own *Block) bool {
	for p := start; p < start+n; p++ {
		b := c.reg.at(p)
		if b == nil || b == own {
			continue
		}
		c.reg.lockSlot(p)
		if !b.replaceable() {
			c.reg.unlockSlot(p)
			return false
		}
		c.releaseLocked(b)
		c.reg.unlockSlot(p)
		c.reg.remove(p)
	}
	return true
}

// releaseLocked marks b free and drops it from the usage counters. Called
// with c.mu and b's slot lock held; the caller removes it from the registry.
func (c *Cache) releaseLocked(b *Block) {
	if b.State == PendingFlush {
		c.dirty -= uint64(b.Slots)
	}
	c.used -= uint64(b.Slots)
	c.usedUncompressed -= uint64(b.OrigSlots)
	b.State = Free
	b.Fence = 0
}

// removeLocked releases b regardless of the fences the caller holds on it.
func (c *Cache) removeLocked(b *Block) {
	c.reg.lockSlot(b.Offset)
	if b.State == Free {
		c.reg.unlockSlot(b.Offset)
		return
	}
	c.releaseLocked(b)
	c.reg.unlockSlot(b.Offset)
	c.reg.remove(b.Offset)
}

// linkLocked registers b and accounts for it without moving the cursors.
func (c *Cache) linkLocked(b *Block) error {
	if err := c.reg.insert(b); err != nil {
		return err
	}
	c.accountLocked(b)
	return nil
}

func (c *Cache) accountLocked(b *Block) {
	c.used += uint64(b.Slots)
	c.usedUncompressed += uint64(b.OrigSlots)
	if b.State == PendingFlush {
		c.dirty += uint64(b.Slots)
	}
}

// insertLocked links b at the write cursor and advances past it. A non-nil
// old copy of the same page is unlinked in the same registry step and
// released.
func (c *Cache) insertLocked(b, old *Block) error {
	if err := c.reg.replace(old, b); err != nil {
		return err
	}
	if old != nil {
		c.reg.lockSlot(old.Offset)
		c.releaseLocked(old)
		c.reg.unlockSlot(old.Offset)
	}
	c.accountLocked(b)
	c.advanceWriteLocked(b.Slots)
	c.sinceCommit += b.Slots
	return nil
}

func (c *Cache) signalFlush() {
	select {
	case c.flushSignal <- struct{}{}:
	default:
	}
}
