package fclog

import "errors"

var (
	// ErrClosed is returned when operations are attempted on a closed log.
	ErrClosed = errors.New("fclog: log is closed")

	// ErrCorrupted is returned when a record fails its checksum check.
	ErrCorrupted = errors.New("fclog: record corrupted")

	// ErrVersionMismatch is returned for records written by an unknown version.
	ErrVersionMismatch = errors.New("fclog: version mismatch")

	// ErrConfigMismatch is returned when the configuration conflicts with the
	// settings recorded in an existing log.
	ErrConfigMismatch = errors.New("fclog: configuration mismatch")

	// ErrDumpAhead is returned when the dump cursors would pass the current
	// cursors within the same round.
	ErrDumpAhead = errors.New("fclog: dump cursor ahead of current cursor")
)
