// Package device provides the flat byte-addressed store backing the cache
// ring: a preallocated file or raw block device, or memory for tests.
package device

import (
	"errors"
	"io"
)

var (
	// ErrTooSmall is returned when an existing device is smaller than the
	// configured cache size.
	ErrTooSmall = errors.New("device: smaller than configured size")

	// ErrOutOfRange is returned for I/O beyond the device size.
	ErrOutOfRange = errors.New("device: offset out of range")

	// ErrClosed is returned for I/O on a closed device.
	ErrClosed = errors.New("device: closed")
)

// Device is the cache ring's backing store. Offsets are byte offsets; the
// cache converts slot numbers with slot*slotSize.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// Sync makes completed writes durable.
	Sync() error

	// Size returns the usable size in bytes.
	Size() int64

	Close() error
}

// Options configure Open.
type Options struct {
	// DirectIO opens the device with O_DIRECT where supported. All buffers
	// must then come from bufpool.
	DirectIO bool
}

func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return ErrOutOfRange
	}
	return nil
}
