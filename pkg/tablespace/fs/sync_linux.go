//go:build linux

package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
