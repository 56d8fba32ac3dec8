// Package tablespace defines the authoritative page store the flash cache sits
// in front of. Implementations live in subpackages: fs for files on disk and
// memory for tests.
package tablespace

import (
	"context"
	"errors"
)

var (
	// ErrSpaceDropped is returned for I/O on a space that does not exist.
	// The cache treats it as a silent no-op.
	ErrSpaceDropped = errors.New("tablespace: space dropped")

	// ErrSpaceExists is returned by Create for an existing space.
	ErrSpaceExists = errors.New("tablespace: space exists")

	// ErrBadPageSize is returned for buffers whose length does not match the
	// space's page size.
	ErrBadPageSize = errors.New("tablespace: buffer does not match page size")
)

// Store reads and writes whole pages of tablespaces.
type Store interface {
	// ReadPage fills buf with the page. Pages never written read as zeros.
	ReadPage(ctx context.Context, space, page uint32, buf []byte) error

	// WritePage writes buf as the page. Durability requires Sync.
	WritePage(ctx context.Context, space, page uint32, buf []byte) error

	// Sync makes every completed write durable.
	Sync(ctx context.Context) error

	// PageSize returns the page size of space; false means it was dropped
	// or never existed.
	PageSize(space uint32) (int, bool)
}

// Manager is a Store whose spaces can be created and dropped.
type Manager interface {
	Store
	Create(space uint32, pageSize int) error
	Drop(space uint32) error
	Spaces() []uint32
}
