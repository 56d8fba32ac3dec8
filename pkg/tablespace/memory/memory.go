// Package memory is a map-backed tablespace store for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/flashcache/pkg/tablespace"
)

type space struct {
	pageSize int
	pages    map[uint32][]byte
}

// Store keeps every page in memory. Writes are visible immediately; Sync only
// counts calls.
type Store struct {
	mu     sync.RWMutex
	spaces map[uint32]*space
	writes int
	syncs  int
}

var _ tablespace.Manager = (*Store)(nil)

func New() *Store {
	return &Store{spaces: make(map[uint32]*space)}
}

func (s *Store) Create(id uint32, pageSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[id]; ok {
		return fmt.Errorf("space %d: %w", id, tablespace.ErrSpaceExists)
	}
	s.spaces[id] = &space{pageSize: pageSize, pages: make(map[uint32][]byte)}
	return nil
}

func (s *Store) Drop(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[id]; !ok {
		return fmt.Errorf("space %d: %w", id, tablespace.ErrSpaceDropped)
	}
	delete(s.spaces, id)
	return nil
}

func (s *Store) Spaces() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.spaces))
	for id := range s.spaces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) PageSize(id uint32) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[id]
	if !ok {
		return 0, false
	}
	return sp.pageSize, true
}

func (s *Store) ReadPage(_ context.Context, id, page uint32, buf []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, err := s.lookup(id, buf)
	if err != nil {
		return err
	}
	if data, ok := sp.pages[page]; ok {
		copy(buf, data)
	} else {
		clear(buf)
	}
	return nil
}

func (s *Store) WritePage(_ context.Context, id, page uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, err := s.lookup(id, buf)
	if err != nil {
		return err
	}
	sp.pages[page] = append([]byte(nil), buf...)
	s.writes++
	return nil
}

func (s *Store) Sync(context.Context) error {
	s.mu.Lock()
	s.syncs++
	s.mu.Unlock()
	return nil
}

// Writes returns the number of WritePage calls that succeeded.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Syncs returns the number of Sync calls.
func (s *Store) Syncs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncs
}

// Page returns a copy of a stored page, or nil if it was never written.
func (s *Store) Page(id, page uint32) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[id]
	if !ok {
		return nil
	}
	data, ok := sp.pages[page]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

func (s *Store) lookup(id uint32, buf []byte) (*space, error) {
	sp, ok := s.spaces[id]
	if !ok {
		return nil, fmt.Errorf("space %d: %w", id, tablespace.ErrSpaceDropped)
	}
	if len(buf) != sp.pageSize {
		return nil, fmt.Errorf("space %d: %d bytes for page size %d: %w", id, len(buf), sp.pageSize, tablespace.ErrBadPageSize)
	}
	return sp, nil
}
