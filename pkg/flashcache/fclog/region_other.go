//go:build !unix

package fclog

import (
	"fmt"
	"os"
)

// fileRegion writes the record in place and syncs the file.
type fileRegion struct {
	file *os.File
}

func openRegion(f *os.File) (region, error) {
	return &fileRegion{file: f}, nil
}

func (r *fileRegion) read() ([]byte, error) {
	buf := make([]byte, RecordSize)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *fileRegion) commit(buf []byte) error {
	if _, err := r.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return r.file.Sync()
}

func (r *fileRegion) close() error {
	return r.file.Close()
}
