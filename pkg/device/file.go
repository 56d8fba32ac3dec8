package device

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/marmos91/flashcache/internal/logger"
)

// File is a Device backed by a regular file or a block device.
type File struct {
	f      *os.File
	path   string
	size   int64
	direct bool
	closed atomic.Bool
}

// Open opens the device at path, creating and preallocating it to size bytes
// when it does not exist. An existing device must be at least size bytes; any
// extra space is left unused.
func Open(path string, size int64, opts Options) (*File, error) {
	flags := os.O_RDWR
	if opts.DirectIO {
		flags |= directFlag
	}

	f, err := os.OpenFile(path, flags|os.O_CREATE|os.O_EXCL, 0644)
	created := err == nil
	if errors.Is(err, os.ErrExist) {
		f, err = os.OpenFile(path, flags, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", path, err)
	}

	d := &File{f: f, path: path, size: size, direct: opts.DirectIO}

	if created {
		logger.Info("Creating cache device", logger.Path(path), logger.Size(uint64(size)))
		if err := preallocate(f, size); err != nil {
			f.Close()
			_ = os.Remove(path)
			return nil, fmt.Errorf("preallocate %s: %w", path, err)
		}
		return d, nil
	}

	actual, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size of %s: %w", path, err)
	}
	if actual < size {
		f.Close()
		return nil, fmt.Errorf("%s is %d bytes, configured %d: %w", path, actual, size, ErrTooSmall)
	}
	return d, nil
}

func (d *File) ReadAt(p []byte, off int64) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}
	return d.f.ReadAt(p, off)
}

func (d *File) WriteAt(p []byte, off int64) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}
	return d.f.WriteAt(p, off)
}

// Sync flushes file data (not metadata) to stable storage.
func (d *File) Sync() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return datasync(d.f)
}

func (d *File) Size() int64 { return d.size }

// Path returns the path the device was opened from.
func (d *File) Path() string { return d.path }

func (d *File) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.f.Close()
}

// deviceSize returns the size of a regular file, or of a block device by
// seeking to its end.
func deviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode().IsRegular() {
		return info.Size(), nil
	}
	end, err := f.Seek(0, 2)
	if err != nil {
		return 0, err
	}
	_, err = f.Seek(0, 0)
	return end, err
}
