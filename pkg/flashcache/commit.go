package flashcache

import (
	"fmt"
	"strings"
)

// CommitStrategy decides when log commits may happen relative to batch
// writes in flight.
type CommitStrategy interface {
	Name() string

	// beginBatch admits a batch write.
	beginBatch(c *Cache) error
	// endBatch ends a batch, or an admitted LRU write.
	endBatch(c *Cache)
	// admitLRU admits a migrate or move write. With wait false it gives up
	// rather than block.
	admitLRU(c *Cache, wait bool) bool
	// mayCommitLocked reports whether the cursors may be committed now.
	// Called with c.mu held.
	mayCommitLocked(c *Cache) bool
}

// ParseCommitStrategy returns the strategy named "recovery-safe" or "simple".
func ParseCommitStrategy(name string) (CommitStrategy, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "recovery-safe", "":
		return recoverySafe{}, nil
	case "simple":
		return simple{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown commit strategy %q", ErrInvalidConfig, name)
	}
}

// simple lets batches run concurrently and commits whenever asked. A commit
// may then cover slots whose device write has not completed.
type simple struct{}

func (simple) Name() string                { return "simple" }
func (simple) beginBatch(*Cache) error     { return nil }
func (simple) endBatch(*Cache)             {}
func (simple) admitLRU(*Cache, bool) bool  { return true }
func (simple) mayCommitLocked(*Cache) bool { return true }

// recoverySafe runs one batch at a time and never commits while one is in
// flight, so every committed slot holds a synced block.
type recoverySafe struct{}

func (recoverySafe) Name() string { return "recovery-safe" }

func (recoverySafe) beginBatch(c *Cache) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.doingDoublewrite > 0 && !c.closed {
		c.dwCond.Wait()
	}
	if c.closed {
		return ErrClosed
	}
	c.doingDoublewrite++
	return nil
}

func (recoverySafe) endBatch(c *Cache) {
	c.mu.Lock()
	c.doingDoublewrite--
	c.dwCond.Broadcast()
	c.mu.Unlock()
}

func (recoverySafe) admitLRU(c *Cache, wait bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !wait && c.doingDoublewrite > 0 {
		return false
	}
	for c.doingDoublewrite > 0 && !c.closed {
		c.dwCond.Wait()
	}
	if c.closed {
		return false
	}
	c.doingDoublewrite++
	return true
}

func (recoverySafe) mayCommitLocked(c *Cache) bool {
	return c.doingDoublewrite == 0
}

// commitGateLocked reports whether the cursors may be committed. With wait
// set it blocks until batches in flight have drained and returns true.
// Called with c.mu held; waiting releases it.
func (c *Cache) commitGateLocked(wait bool) bool {
	for !c.strategy.mayCommitLocked(c) {
		if !wait {
			return false
		}
		c.dwCond.Wait()
	}
	return true
}
