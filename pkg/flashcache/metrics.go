package flashcache

import "time"

// Read results reported to Metrics.
const (
	ReadHit     = "hit"
	ReadMiss    = "miss"
	ReadCorrupt = "corrupt"
	ReadDropped = "dropped"
)

// Write sources reported to Metrics.
const (
	SourceDoublewrite = "doublewrite"
	SourceSingle      = "single"
	SourceMigrate     = "migrate"
	SourceMove        = "move"
)

// Metrics receives cache observations. A nil Metrics disables collection.
type Metrics interface {
	ObserveRead(result string, d time.Duration)
	ObserveWrite(source string, pages int, bytes int64)
	ObserveFlush(pages int, d time.Duration)
	RecordUsage(used, dirty uint64, distance int64, capacity uint32)
	RecordCompression(origBytes, storedBytes int)
	RecordRecoveryDiscarded(n int)
}
