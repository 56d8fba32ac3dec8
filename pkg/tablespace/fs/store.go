// Package fs provides a filesystem-backed tablespace store: one file per space
// named space_<id>.ibd, plus a spaces.yaml catalog recording page sizes.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/tablespace"
)

const catalogName = "spaces.yaml"

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("tablespace store is closed")

// Config holds configuration for the filesystem tablespace store.
type Config struct {
	// BasePath is the directory holding the space files and the catalog.
	BasePath string

	// CreateDir creates BasePath if it does not exist.
	// Default: true
	CreateDir bool

	// FileMode is the permission mode for created space files.
	// Default: 0644
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		FileMode:  0644,
	}
}

type catalog struct {
	Spaces map[uint32]int `yaml:"spaces"`
}

// Store is a filesystem-backed tablespace.Manager.
type Store struct {
	mu       sync.RWMutex
	basePath string
	fileMode os.FileMode
	sizes    map[uint32]int
	files    map[uint32]*os.File
	dirty    map[uint32]struct{}
	closed   bool
}

var _ tablespace.Manager = (*Store)(nil)

// New opens the store at cfg.BasePath and loads its catalog.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	s := &Store{
		basePath: cfg.BasePath,
		fileMode: cfg.FileMode,
		sizes:    make(map[uint32]int),
		files:    make(map[uint32]*os.File),
		dirty:    make(map[uint32]struct{}),
	}
	if err := s.loadCatalog(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithPath opens a store with the default configuration.
func NewWithPath(basePath string) (*Store, error) {
	return New(DefaultConfig(basePath))
}

func (s *Store) spacePath(id uint32) string {
	return filepath.Join(s.basePath, fmt.Sprintf("space_%d.ibd", id))
}

func (s *Store) loadCatalog() error {
	data, err := os.ReadFile(filepath.Join(s.basePath, catalogName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for id, size := range c.Spaces {
		s.sizes[id] = size
	}
	return nil
}

// saveCatalog must be called with s.mu held.
func (s *Store) saveCatalog() error {
	data, err := yaml.Marshal(catalog{Spaces: s.sizes})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return atomic.WriteFile(filepath.Join(s.basePath, catalogName), bytes.NewReader(data))
}

// Create registers a new space and creates its empty file.
func (s *Store) Create(id uint32, pageSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sizes[id]; ok {
		return fmt.Errorf("space %d: %w", id, tablespace.ErrSpaceExists)
	}

	f, err := os.OpenFile(s.spacePath(id), os.O_RDWR|os.O_CREATE|os.O_TRUNC, s.fileMode)
	if err != nil {
		return fmt.Errorf("create space %d: %w", id, err)
	}
	s.files[id] = f
	s.sizes[id] = pageSize
	if err := s.saveCatalog(); err != nil {
		delete(s.sizes, id)
		return err
	}
	logger.Debug("Tablespace created", logger.Space(id), logger.Size(uint64(pageSize)))
	return nil
}

// Drop removes a space and its file.
func (s *Store) Drop(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sizes[id]; !ok {
		return fmt.Errorf("space %d: %w", id, tablespace.ErrSpaceDropped)
	}
	if f, ok := s.files[id]; ok {
		_ = f.Close()
		delete(s.files, id)
	}
	delete(s.sizes, id)
	delete(s.dirty, id)
	if err := s.saveCatalog(); err != nil {
		return err
	}
	if err := os.Remove(s.spacePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove space %d: %w", id, err)
	}
	logger.Debug("Tablespace dropped", logger.Space(id))
	return nil
}

func (s *Store) Spaces() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.sizes))
	for id := range s.sizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) PageSize(id uint32) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size, ok := s.sizes[id]
	return size, ok
}

// file returns the open file for id, opening it lazily. Called with s.mu
// held for writing.
func (s *Store) file(id uint32, buf []byte) (*os.File, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	size, ok := s.sizes[id]
	if !ok {
		return nil, fmt.Errorf("space %d: %w", id, tablespace.ErrSpaceDropped)
	}
	if len(buf) != size {
		return nil, fmt.Errorf("space %d: %d bytes for page size %d: %w", id, len(buf), size, tablespace.ErrBadPageSize)
	}
	if f, ok := s.files[id]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.spacePath(id), os.O_RDWR|os.O_CREATE, s.fileMode)
	if err != nil {
		return nil, fmt.Errorf("open space %d: %w", id, err)
	}
	s.files[id] = f
	return f, nil
}

// ReadPage reads a page; pages past the end of the file read as zeros.
func (s *Store) ReadPage(_ context.Context, id, page uint32, buf []byte) error {
	s.mu.Lock()
	f, err := s.file(id, buf)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	n, err := f.ReadAt(buf, int64(page)*int64(len(buf)))
	if n < len(buf) {
		clear(buf[n:])
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read space %d page %d: %w", id, page, err)
	}
	return nil
}

func (s *Store) WritePage(_ context.Context, id, page uint32, buf []byte) error {
	s.mu.Lock()
	f, err := s.file(id, buf)
	if err == nil {
		s.dirty[id] = struct{}{}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := f.WriteAt(buf, int64(page)*int64(len(buf))); err != nil {
		return fmt.Errorf("write space %d page %d: %w", id, page, err)
	}
	return nil
}

// Sync flushes every space written since the last Sync.
func (s *Store) Sync(_ context.Context) error {
	s.mu.Lock()
	files := make([]*os.File, 0, len(s.dirty))
	for id := range s.dirty {
		if f, ok := s.files[id]; ok {
			files = append(files, f)
		}
	}
	s.dirty = make(map[uint32]struct{})
	s.mu.Unlock()

	for _, f := range files {
		if err := datasync(f); err != nil {
			return fmt.Errorf("sync %s: %w", f.Name(), err)
		}
	}
	return nil
}

// Close closes every open space file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for id, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close space %d: %w", id, err))
		}
	}
	s.files = nil
	return errors.Join(errs...)
}
