package flashcache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/pkg/device"
	"github.com/marmos91/flashcache/pkg/page"
	"github.com/marmos91/flashcache/pkg/tablespace/memory"
)

const (
	testSlot  = 1 << 10
	testPage  = 4 << 10
	testSpace = uint32(1)
)

// env is a cache under test with its device and tablespace, surviving
// restarts of the cache.
type env struct {
	t     *testing.T
	dev   *device.Memory
	store *memory.Store
	dir   string
	cfg   Config
}

// newEnv builds an environment for a ring of slots slots of testSlot bytes
// with one space of testPage pages.
func newEnv(t *testing.T, slots int, mut ...func(*Config)) *env {
	t.Helper()
	return newEnvSized(t, testSlot, slots, mut...)
}

// newEnvSized is newEnv with a slot size other than testSlot.
func newEnvSized(t *testing.T, slotSize, slots int, mut ...func(*Config)) *env {
	t.Helper()
	e := &env{
		t:     t,
		dev:   device.NewMemory(int64(slots) * int64(slotSize)),
		store: memory.New(),
		dir:   t.TempDir(),
	}
	require.NoError(t, e.store.Create(testSpace, testPage))

	cfg := DefaultConfig()
	cfg.Device = e.dev
	cfg.Store = e.store
	cfg.LogPath = filepath.Join(e.dir, "ib_flash_cache.log")
	cfg.SlotSize = slotSize
	cfg.PageSize = testPage
	cfg.ReservePages = 0
	cfg.IOCapacity = 4
	cfg.CommitThreshold = 1 << 20
	cfg.Compress = false
	for _, m := range mut {
		m(&cfg)
	}
	e.cfg = cfg
	return e
}

func (e *env) open() *Cache {
	e.t.Helper()
	c, err := Open(context.Background(), e.cfg)
	require.NoError(e.t, err)
	return c
}

// crash drops unsynced device writes and opens a new cache, leaving the old
// one abandoned.
func (e *env) crash() *Cache {
	e.t.Helper()
	e.dev.Crash()
	return e.open()
}

// restart closes c cleanly and opens the cache again.
func (e *env) restart(c *Cache) *Cache {
	e.t.Helper()
	require.NoError(e.t, c.Close(context.Background()))
	e.dev.Reopen()
	return e.open()
}

func testPg(pageNo uint32, lsn uint64) []byte {
	return pageOf(testSpace, pageNo, lsn)
}

func pageOf(space, pageNo uint32, lsn uint64) []byte {
	return page.New(space, pageNo, testPage, page.TypeIndex, lsn, []byte{byte(pageNo), byte(lsn), 0x5A})
}

func mustWrite(t *testing.T, c *Cache, pages ...[]byte) {
	t.Helper()
	require.NoError(t, c.WriteBatch(context.Background(), pages))
}

func mustRead(t *testing.T, c *Cache, pageNo uint32) ([]byte, bool) {
	t.Helper()
	buf := make([]byte, testPage)
	hit, err := c.ReadPage(context.Background(), testSpace, pageNo, buf, true)
	require.NoError(t, err)
	return buf, hit
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for flush signal")
	}
}

// recorder is a Metrics that keeps what it was told.
type recorder struct {
	mu          sync.Mutex
	reads       map[string]int
	writes      map[string]int
	flushed     int
	compressed  int
	discarded   int
	lastUsed    uint64
	lastDirty   uint64
	lastCap     uint32
	usageEvents int
}

func newRecorder() *recorder {
	return &recorder{reads: map[string]int{}, writes: map[string]int{}}
}

func (r *recorder) ObserveRead(result string, _ time.Duration) {
	r.mu.Lock()
	r.reads[result]++
	r.mu.Unlock()
}

func (r *recorder) ObserveWrite(source string, pages int, _ int64) {
	r.mu.Lock()
	r.writes[source] += pages
	r.mu.Unlock()
}

func (r *recorder) ObserveFlush(pages int, _ time.Duration) {
	r.mu.Lock()
	r.flushed += pages
	r.mu.Unlock()
}

func (r *recorder) RecordUsage(used, dirty uint64, _ int64, capacity uint32) {
	r.mu.Lock()
	r.lastUsed, r.lastDirty, r.lastCap = used, dirty, capacity
	r.usageEvents++
	r.mu.Unlock()
}

func (r *recorder) RecordCompression(int, int) {
	r.mu.Lock()
	r.compressed++
	r.mu.Unlock()
}

func (r *recorder) RecordRecoveryDiscarded(n int) {
	r.mu.Lock()
	r.discarded += n
	r.mu.Unlock()
}

// gatedDevice holds the next WriteAt after arm until open is called, so a
// test can act while a batch is mid-I/O.
type gatedDevice struct {
	device.Device

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	gate    chan struct{}
}

func withGate(g **gatedDevice) func(*Config) {
	return func(cfg *Config) {
		*g = &gatedDevice{Device: cfg.Device}
		cfg.Device = *g
	}
}

func (g *gatedDevice) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.entered = make(chan struct{})
	g.gate = make(chan struct{})
}

func (g *gatedDevice) WriteAt(p []byte, off int64) (int, error) {
	g.mu.Lock()
	armed, entered, gate := g.armed, g.entered, g.gate
	g.armed = false
	g.mu.Unlock()
	if armed {
		close(entered)
		<-gate
	}
	return g.Device.WriteAt(p, off)
}

// waitEntered blocks until the armed write has started.
func (g *gatedDevice) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the gated write")
	}
}

func (g *gatedDevice) open() { close(g.gate) }

// pending runs fn in a goroutine and returns its result channel.
func pending(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

// blocked asserts that ch stays empty for a short while.
func blocked(t *testing.T, ch <-chan error, what string) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("%s returned while a batch was in flight: %v", what, err)
	case <-time.After(50 * time.Millisecond):
	}
}

// finished waits for ch and returns its error.
func finished(t *testing.T, ch <-chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not return", what)
		return nil
	}
}
