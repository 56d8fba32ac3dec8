// Package flashcache implements a second-level page cache on a fast device.
//
// The cache sits between an in-memory buffer pool and the tablespace. Dirty
// pages from double-write batches and clean pages evicted from memory are
// appended to a ring of fixed-size slots on the device, and a flush engine
// later writes dirty pages back to the tablespace in ring order.
//
// Ring discipline:
//
//	 flush cursor                 write cursor
//	      |                            |
//	 -----[ dirty and clean blocks ]---[ clean or free, reusable ]-----
//
// The region from the flush cursor to the write cursor may hold pages newer
// than the tablespace. Everything past the write cursor has been reconciled
// and may be overwritten. Both cursors carry a round counter, so their
// distance is (write.Round-flush.Round)*capacity + write.Offset - flush.Offset
// and always lies in [0, capacity].
//
// A 512-byte log (package fclog) persists the cursors. After a crash, Open
// rescans the ring region the log describes and rebuilds the block registry.
// A clean shutdown may instead write a dump of the registry that the next
// Open loads without scanning.
//
// Concurrency:
//   - Cache.mu guards cursors, usage counters and the reservation state.
//   - The registry lock guards the key index and the slot arena.
//   - A per-slot mutex guards the State and Fence of each block.
//   - Device I/O happens with only fences held.
//
// Locks are taken in that order; the log has its own lock and is taken last.
package flashcache
