//go:build unix

package fclog

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapRegion maps the record and persists it with msync.
type mmapRegion struct {
	file *os.File
	data []byte
}

func openRegion(f *os.File) (region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &mmapRegion{file: f, data: data}, nil
}

func (r *mmapRegion) read() ([]byte, error) {
	return append([]byte(nil), r.data...), nil
}

func (r *mmapRegion) commit(buf []byte) error {
	copy(r.data, buf)
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

func (r *mmapRegion) close() error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			_ = r.file.Close()
			return fmt.Errorf("munmap: %w", err)
		}
		r.data = nil
	}
	return r.file.Close()
}
