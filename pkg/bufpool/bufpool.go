// Package bufpool provides reusable, sector-aligned byte buffers for device
// and tablespace I/O.
//
// Buffers handed to a device opened with O_DIRECT must start on a sector
// boundary and have a length that is a multiple of the sector size, so every
// buffer returned here is aligned to Alignment. Pools are kept per size class
// (one class per power of two from MinClass to MaxClass); larger requests are
// allocated directly and never pooled.
//
// # Usage
//
//	buf := bufpool.Get(pageSize)
//	defer bufpool.Put(buf)
package bufpool

import (
	"math/bits"
	"sync"
	"unsafe"
)

const (
	// Alignment is the start and length alignment of every buffer.
	Alignment = 4096

	// MinClass is the smallest pooled buffer (one sector).
	MinClass = 4 << 10

	// MaxClass is the largest pooled buffer. Recovery and backup read in
	// batches of at most this size.
	MaxClass = 4 << 20
)

// Pool manages one sync.Pool per power-of-two size class.
type Pool struct {
	classes []sync.Pool
	minSize int
	maxSize int
}

// NewPool creates a pool serving sizes up to maxSize, rounded up to a power of
// two. A maxSize below MinClass falls back to MaxClass.
func NewPool(maxSize int) *Pool {
	if maxSize < MinClass {
		maxSize = MaxClass
	}
	maxSize = roundPow2(maxSize)

	n := bits.Len(uint(maxSize/MinClass)) // classes MinClass..maxSize
	p := &Pool{
		classes: make([]sync.Pool, n),
		minSize: MinClass,
		maxSize: maxSize,
	}
	for i := range p.classes {
		size := MinClass << i
		p.classes[i].New = func() any {
			buf := Aligned(size)
			return &buf
		}
	}
	return p
}

// Get returns an aligned slice of length size. Its capacity is the size class,
// which may exceed size. Callers must Put the slice back when done.
func (p *Pool) Get(size int) []byte {
	if size > p.maxSize {
		return Aligned(size)[:size]
	}
	bufPtr := p.classes[p.classIndex(size)].Get().(*[]byte)
	return (*bufPtr)[:size]
}

// Put returns buf to its size class. Slices whose capacity is not a class
// size are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < p.minSize || c > p.maxSize || c&(c-1) != 0 {
		return
	}
	full := buf[:c]
	p.classes[p.classIndex(c)].Put(&full)
}

func (p *Pool) classIndex(size int) int {
	if size <= p.minSize {
		return 0
	}
	return bits.Len(uint((size-1)/p.minSize))
}

// Aligned allocates a zeroed slice of at least size bytes, rounded up to a
// multiple of Alignment, whose first byte sits on an Alignment boundary.
func Aligned(size int) []byte {
	n := (size + Alignment - 1) &^ (Alignment - 1)
	if n == 0 {
		n = Alignment
	}
	raw := make([]byte, n+Alignment)
	shift := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & (Alignment - 1)); rem != 0 {
		shift = Alignment - rem
	}
	return raw[shift : shift+n : shift+n]
}

// IsAligned reports whether buf starts on an Alignment boundary.
func IsAligned(buf []byte) bool {
	if cap(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[:1][0]))&(Alignment-1) == 0
}

func roundPow2(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

var defaultPool = NewPool(MaxClass)

// Get returns a buffer from the default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put returns a buffer to the default pool.
func Put(buf []byte) { defaultPool.Put(buf) }
