package flashcache

import "runtime"

// acquire waits until the live block for k has none of the wait fences set,
// then sets the set fences on it. It returns a copy of the block, or false
// when k is not cached.
func (c *Cache) acquire(k Key, wait, set Fence) (*Block, Block, bool) {
	c.fenceMu.Lock()
	defer c.fenceMu.Unlock()
	for {
		b := c.reg.lookupBlock(k)
		if b == nil {
			return nil, Block{}, false
		}
		c.reg.lockSlot(b.Offset)
		if b.State == Free {
			// Released but not yet unlinked.
			c.reg.unlockSlot(b.Offset)
			runtime.Gosched()
			continue
		}
		if b.Fence&wait == 0 {
			b.Fence |= set
			snap := *b
			c.reg.unlockSlot(b.Offset)
			return b, snap, true
		}
		c.reg.unlockSlot(b.Offset)
		c.fenceCond.Wait()
	}
}

// release clears fences on b and wakes fence and space waiters.
func (c *Cache) release(b *Block, f Fence) {
	c.reg.lockSlot(b.Offset)
	b.Fence &^= f
	c.reg.unlockSlot(b.Offset)

	c.fenceMu.Lock()
	c.fenceCond.Broadcast()
	c.fenceMu.Unlock()

	c.mu.Lock()
	if c.finding {
		c.spaceCond.Broadcast()
	}
	c.mu.Unlock()
}
