//go:build !linux

package device

import "os"

// O_DIRECT is Linux-only; elsewhere DirectIO is accepted and ignored.
const directFlag = 0

func preallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}

func datasync(f *os.File) error {
	return f.Sync()
}
