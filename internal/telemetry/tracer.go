package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/flashcache/internal/logger"
)

// Attribute keys recorded on cache and backup spans.
const (
	AttrRingOffset  = "ring.offset"
	AttrRingRound   = "ring.round"
	AttrDistance    = "ring.distance"
	AttrFlushTarget = "cache.flush_target"
	AttrForce       = "cache.force"
	AttrPages       = "cache.pages"
	AttrPath        = "fs.path"
	AttrBackupID    = "backup.id"
)

// RingOffset returns an attribute for a ring slot offset
func RingOffset(off uint32) attribute.KeyValue {
	return attribute.Int64(AttrRingOffset, int64(off))
}

// RingRound returns an attribute for a ring round counter
func RingRound(r uint32) attribute.KeyValue {
	return attribute.Int64(AttrRingRound, int64(r))
}

// Distance returns an attribute for the slots between the flush and write cursors
func Distance(d int64) attribute.KeyValue {
	return attribute.Int64(AttrDistance, d)
}

// FlushTarget returns an attribute for the slots a flush pass aims for
func FlushTarget(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrFlushTarget, int64(n))
}

func Force(force bool) attribute.KeyValue {
	return attribute.Bool(AttrForce, force)
}

func Pages(n int) attribute.KeyValue {
	return attribute.Int(AttrPages, n)
}

func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

func BackupID(id string) attribute.KeyValue {
	return attribute.String(AttrBackupID, id)
}

// StartCacheSpan starts a span named cache.<operation>. The returned context
// also carries a logger.LogContext, so *Ctx log lines emitted during the
// operation include its trace and span IDs.
func StartCacheSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startOperation(ctx, "cache", operation, attrs)
}

// StartBackupSpan is StartCacheSpan for backup.<operation>.
func StartBackupSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startOperation(ctx, "backup", operation, attrs)
}

func startOperation(ctx context.Context, component, operation string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, component+"."+operation, trace.WithAttributes(attrs...))
	lc := logger.NewLogContext(operation)
	if sc := span.SpanContext(); sc.IsValid() {
		lc = lc.WithTrace(sc.TraceID().String(), sc.SpanID().String())
	}
	return logger.WithContext(ctx, lc), span
}
