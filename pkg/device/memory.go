package device

import (
	"errors"
	"sync"
)

// ErrInjected is returned by a Memory device after FailWrites is set.
var ErrInjected = errors.New("device: injected failure")

// Memory is an in-memory Device for tests. It can simulate a crash by
// discarding writes made since the last Sync.
type Memory struct {
	mu         sync.RWMutex
	data       []byte
	durable    []byte
	syncs      int
	failWrites bool
	closed     bool
}

// NewMemory returns a zeroed Memory device of size bytes.
func NewMemory(size int64) *Memory {
	return &Memory{
		data:    make([]byte, size),
		durable: make([]byte, size),
	}
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.failWrites {
		return 0, ErrInjected
	}
	if err := checkRange(off, len(p), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(m.data[off:], p), nil
}

func (m *Memory) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	copy(m.durable, m.data)
	m.syncs++
	return nil
}

func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// Close marks the device closed. Contents survive so it can be reopened
// with Reopen.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Reopen clears the closed flag, as if the process restarted and opened the
// same device again.
func (m *Memory) Reopen() *Memory {
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
	return m
}

// Crash drops every write since the last Sync and reopens the device.
func (m *Memory) Crash() *Memory {
	m.mu.Lock()
	copy(m.data, m.durable)
	m.closed = false
	m.mu.Unlock()
	return m
}

// Syncs returns how many times Sync was called.
func (m *Memory) Syncs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncs
}

// FailWrites makes every later WriteAt fail with ErrInjected.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	m.failWrites = fail
	m.mu.Unlock()
}

// Corrupt flips the byte at off, bypassing the closed check.
func (m *Memory) Corrupt(off int64) {
	m.mu.Lock()
	m.data[off] ^= 0xFF
	m.durable[off] ^= 0xFF
	m.mu.Unlock()
}
