package flashcache

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a cached block.
type State uint8

const (
	// Free marks a descriptor that no longer owns its slots.
	Free State = iota
	// PendingFlush is a dirty block not yet written to the tablespace.
	PendingFlush
	// ReadCache is a clean copy placed by migrate, move or write-through.
	ReadCache
	// Flushed is a clean block already reconciled with the tablespace.
	Flushed
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case PendingFlush:
		return "pending_flush"
	case ReadCache:
		return "read_cache"
	case Flushed:
		return "flushed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Fence marks I/O in flight on a block.
type Fence uint8

const (
	ReadInFlight Fence = 1 << iota
	DoubleWriteInFlight
	FlushInFlight
)

// Has reports whether every bit of x is set.
func (f Fence) Has(x Fence) bool { return f&x == x }

func (f Fence) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(ReadInFlight) {
		parts = append(parts, "read")
	}
	if f.Has(DoubleWriteInFlight) {
		parts = append(parts, "doublewrite")
	}
	if f.Has(FlushInFlight) {
		parts = append(parts, "flush")
	}
	return strings.Join(parts, "|")
}

// Key identifies a tablespace page.
type Key struct {
	Space uint32
	Page  uint32
}

// Block describes one occupied region of the ring.
//
// Identity and placement never change after the block is inserted. State and
// Fence are guarded by the per-slot lock of Offset; values handed out by the
// Cache are copies.
type Block struct {
	Space  uint32
	Page   uint32
	Offset uint32
	Slots  uint32

	// CompressedSize is the raw codec output size in bytes, or in slots for
	// legacy blocks. Zero means the page is stored uncompressed.
	CompressedSize uint32

	// OrigSlots is the uncompressed size of the page in slots.
	OrigSlots uint32

	Legacy bool
	State  State
	Fence  Fence

	// lsn is known only for blocks found by a recovery scan.
	lsn uint64
}

func (b *Block) Key() Key { return Key{Space: b.Space, Page: b.Page} }

// Compressed reports whether the block holds a packed page.
func (b *Block) Compressed() bool { return b.CompressedSize > 0 }

// replaceable reports whether the allocator may evict the block. Called with
// the block's slot lock held.
func (b *Block) replaceable() bool {
	return b.State != PendingFlush && b.Fence == 0
}
