package flashcache

import "errors"

var (
	// ErrDeviceIO wraps read, write and sync failures on the cache device or
	// the tablespace store. The cache cannot continue safely after one.
	ErrDeviceIO = errors.New("flashcache: device I/O error")

	// ErrCorrupted is returned when a cached copy fails its identity or
	// checksum validation where no fallback exists.
	ErrCorrupted = errors.New("flashcache: corrupted block")

	// ErrConfigMismatch is returned from Open when the configuration
	// conflicts with the persisted log.
	ErrConfigMismatch = errors.New("flashcache: configuration mismatch")

	// ErrClosed is returned for operations on a closed cache.
	ErrClosed = errors.New("flashcache: cache is closed")

	// ErrDuplicateBlock is returned when inserting a key that already has a
	// live block.
	ErrDuplicateBlock = errors.New("flashcache: duplicate block")

	// ErrRecoveryStalled is returned when a recovery region yields no
	// progress at all.
	ErrRecoveryStalled = errors.New("flashcache: recovery made no progress")

	// ErrInvalidConfig is returned for configurations Open cannot use.
	ErrInvalidConfig = errors.New("flashcache: invalid configuration")

	// ErrInvalidPage is returned for buffers whose size does not match the
	// page size of their space.
	ErrInvalidPage = errors.New("flashcache: invalid page buffer")
)
