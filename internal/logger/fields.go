package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys. Every log line about a cached page, a ring position or
// a log commit uses these so that lines can be filtered and joined.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Page identity
	KeySpace    = "space"     // tablespace id
	KeyPage     = "page"      // page number within the tablespace
	KeyPageType = "page_type" // on-page type code
	KeyLSN      = "lsn"       // newest modification LSN stamped on the page

	// Ring placement
	KeyOffset    = "ring_offset" // slot offset of a block in the ring
	KeyRound     = "round"       // wrap counter of a cursor
	KeySlots     = "slots"       // slots occupied by a block
	KeyState     = "state"       // block lifecycle state
	KeyDistance  = "distance"    // slots between flush and write cursors
	KeyCapacity  = "capacity"    // ring capacity in slots
	KeyCodec     = "codec"       // compression codec name
	KeyPacked    = "packed_size" // compressed size including header
	KeyWriteMode = "write_mode"  // write-back or write-through

	// Operation metadata
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCount      = "count"
	KeySize       = "size"
	KeyPath       = "path"
	KeyReason     = "reason"
	KeyVersion    = "version"
	KeyAttempt    = "attempt"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }

// Space returns the tablespace id attribute.
func Space(id uint32) slog.Attr { return slog.Uint64(KeySpace, uint64(id)) }

// Page returns the page number attribute.
func Page(no uint32) slog.Attr { return slog.Uint64(KeyPage, uint64(no)) }

// PageKey returns both halves of a page identity as a group-free pair.
func PageKey(space, page uint32) []any {
	return []any{KeySpace, space, KeyPage, page}
}

func PageType(t uint16) slog.Attr { return slog.Uint64(KeyPageType, uint64(t)) }
func LSN(lsn uint64) slog.Attr    { return slog.Uint64(KeyLSN, lsn) }

// Offset is a slot offset in the ring, not a byte offset.
func Offset(off uint32) slog.Attr { return slog.Uint64(KeyOffset, uint64(off)) }

func Round(r uint32) slog.Attr        { return slog.Uint64(KeyRound, uint64(r)) }
func Slots(n uint32) slog.Attr        { return slog.Uint64(KeySlots, uint64(n)) }
func State(s fmt.Stringer) slog.Attr  { return slog.String(KeyState, s.String()) }
func Distance(d int64) slog.Attr      { return slog.Int64(KeyDistance, d) }
func Capacity(c uint32) slog.Attr     { return slog.Uint64(KeyCapacity, uint64(c)) }
func Codec(name string) slog.Attr     { return slog.String(KeyCodec, name) }
func PackedSize(n uint32) slog.Attr   { return slog.Uint64(KeyPacked, uint64(n)) }
func WriteMode(m string) slog.Attr    { return slog.String(KeyWriteMode, m) }
func Operation(op string) slog.Attr   { return slog.String(KeyOperation, op) }
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Size(n uint64) slog.Attr         { return slog.Uint64(KeySize, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func Version(v uint32) slog.Attr      { return slog.Uint64(KeyVersion, uint64(v)) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }

// Err returns an error attribute. A nil error yields an empty attr, which
// handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
