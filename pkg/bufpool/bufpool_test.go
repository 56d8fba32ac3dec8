package bufpool

import (
	"sync"
	"testing"
)

func TestAligned(t *testing.T) {
	for _, size := range []int{0, 1, 512, 4096, 4097, 16384, 1 << 20} {
		buf := Aligned(size)
		if len(buf) < size {
			t.Fatalf("Aligned(%d) len = %d", size, len(buf))
		}
		if len(buf)%Alignment != 0 {
			t.Errorf("Aligned(%d) len %d not a multiple of %d", size, len(buf), Alignment)
		}
		if !IsAligned(buf) {
			t.Errorf("Aligned(%d) start not aligned", size)
		}
	}
}

func TestPool_GetReturnsRequestedLength(t *testing.T) {
	p := NewPool(1 << 20)

	tests := []struct {
		size    int
		wantCap int
	}{
		{1, 4 << 10},
		{4 << 10, 4 << 10},
		{5 << 10, 8 << 10},
		{16 << 10, 16 << 10},
		{1 << 20, 1 << 20},
		{(1 << 20) + 1, (1 << 20) + Alignment},
	}

	for _, tt := range tests {
		buf := p.Get(tt.size)
		if len(buf) != tt.size {
			t.Errorf("Get(%d) len = %d", tt.size, len(buf))
		}
		if cap(buf) != tt.wantCap {
			t.Errorf("Get(%d) cap = %d, want %d", tt.size, cap(buf), tt.wantCap)
		}
		if !IsAligned(buf) {
			t.Errorf("Get(%d) not aligned", tt.size)
		}
		p.Put(buf)
	}
}

func TestPool_PutIgnoresForeignBuffers(t *testing.T) {
	p := NewPool(64 << 10)

	// Must not panic: wrong capacities are dropped.
	p.Put(nil)
	p.Put(make([]byte, 3000))
	p.Put(make([]byte, 12<<10))
	p.Put(make([]byte, 128<<10))
}

func TestNewPool_RoundsMax(t *testing.T) {
	p := NewPool(100 << 10)
	if p.maxSize != 128<<10 {
		t.Fatalf("maxSize = %d, want %d", p.maxSize, 128<<10)
	}
	if len(p.classes) != 6 { // 4K 8K 16K 32K 64K 128K
		t.Fatalf("classes = %d, want 6", len(p.classes))
	}

	if NewPool(0).maxSize != MaxClass {
		t.Fatal("zero max should fall back to MaxClass")
	}
}

func TestDefaultPool_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				size := (n%4 + 1) * 4096
				buf := Get(size)
				buf[0] = byte(n)
				buf[size-1] = byte(j)
				Put(buf)
			}
		}(i)
	}
	wg.Wait()
}
