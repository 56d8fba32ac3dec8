package flashcache

import (
	"fmt"
	"sync"
)

// registry maps page keys to the ring slot holding their block.
//
// The arena has one entry per slot; only the first slot of a block points at
// it. mu guards the index and arena shape, locks[off] guards the State and
// Fence of the block starting at off.
type registry struct {
	mu    sync.RWMutex
	index map[Key]uint32
	arena []*Block
	locks []sync.Mutex
}

func newRegistry(capacity uint32) *registry {
	return &registry{
		index: make(map[Key]uint32),
		arena: make([]*Block, capacity),
		locks: make([]sync.Mutex, capacity),
	}
}

func (r *registry) lookup(k Key) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	off, ok := r.index[k]
	return off, ok
}

func (r *registry) lookupBlock(k Key) *Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	off, ok := r.index[k]
	if !ok {
		return nil
	}
	return r.arena[off]
}

// at returns the block starting at off, or nil.
func (r *registry) at(off uint32) *Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.arena[off]
}

func (r *registry) insert(b *Block) error {
	return r.replace(nil, b)
}

// replace links b and unlinks old, an older copy of the same page, in one
// step, so a lookup never misses the page in between. old may be nil.
func (r *registry) replace(old, b *Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.Offset >= uint32(len(r.arena)) || b.Offset+b.Slots > uint32(len(r.arena)) {
		return fmt.Errorf("block %d:%d at %d+%d beyond ring of %d slots",
			b.Space, b.Page, b.Offset, b.Slots, len(r.arena))
	}
	k := b.Key()
	if off, ok := r.index[k]; ok && (old == nil || off != old.Offset) {
		return fmt.Errorf("block %d:%d: %w", b.Space, b.Page, ErrDuplicateBlock)
	}
	if cur := r.arena[b.Offset]; cur != nil && cur != old {
		return fmt.Errorf("slot %d occupied by %d:%d: %w",
			b.Offset, cur.Space, cur.Page, ErrDuplicateBlock)
	}
	if old != nil {
		r.unlink(old.Offset)
	}
	r.index[k] = b.Offset
	r.arena[b.Offset] = b
	return nil
}

// remove unlinks the block starting at off and returns it.
func (r *registry) remove(off uint32) *Block {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unlink(off)
}

// unlink is remove with r.mu held.
func (r *registry) unlink(off uint32) *Block {
	b := r.arena[off]
	if b == nil {
		return nil
	}
	if cur, ok := r.index[b.Key()]; ok && cur == off {
		delete(r.index, b.Key())
	}
	r.arena[off] = nil
	return b
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// blocks returns the live blocks in ring order.
func (r *registry) blocks() []*Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Block, 0, len(r.index))
	for _, b := range r.arena {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (r *registry) lockSlot(off uint32)   { r.locks[off].Lock() }
func (r *registry) unlockSlot(off uint32) { r.locks[off].Unlock() }

// snapshot copies b under its slot lock.
func (r *registry) snapshot(b *Block) Block {
	r.lockSlot(b.Offset)
	defer r.unlockSlot(b.Offset)
	return *b
}
