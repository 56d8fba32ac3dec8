package flashcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/pkg/device"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
	"github.com/marmos91/flashcache/pkg/page"
)

func TestOpen_Fresh(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	st := c.Status()
	assert.Equal(t, uint32(64), st.Capacity)
	assert.Equal(t, testSlot, st.SlotSize)
	assert.Equal(t, SourceFresh, st.Recovery.Source)
	assert.Zero(t, st.Distance)
	assert.Equal(t, "write_back", st.WriteModeName)
	assert.Equal(t, "none", st.Codec)
	assert.False(t, c.LogRecord().BeenShutdown)
}

func TestOpen_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"slot size", func(c *Config) { c.SlotSize = 3000 }},
		{"page size", func(c *Config) { c.PageSize = 3000 }},
		{"no log", func(c *Config) { c.LogPath = "" }},
		{"dump without path", func(c *Config) { c.EnableDump = true }},
		{"percent", func(c *Config) { c.FullFlushPct = 101 }},
		{"strategy", func(c *Config) { c.CommitStrategy = "eventual" }},
		{"tiny device", func(c *Config) { c.Device = device.NewMemory(testPage) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 64, tt.mut)
			_, err := Open(context.Background(), e.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestOpen_SlotSizeMismatch(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	require.NoError(t, c.Close(context.Background()))
	e.dev.Reopen()

	e.cfg.SlotSize = 2 << 10
	_, err := Open(context.Background(), e.cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestWriteRead(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	pg := testPg(3, 42)
	require.NoError(t, c.WritePage(context.Background(), pg))

	b, ok := c.Lookup(testSpace, 3)
	require.True(t, ok)
	assert.Equal(t, uint32(0), b.Offset)
	assert.Equal(t, uint32(4), b.Slots)
	assert.Equal(t, PendingFlush, b.State)
	assert.Zero(t, b.Fence)

	got, hit := mustRead(t, c, 3)
	assert.True(t, hit)
	assert.Equal(t, pg, got)

	_, hit = mustRead(t, c, 4)
	assert.False(t, hit, "uncached page comes from the tablespace")

	st := c.Status()
	assert.Equal(t, uint64(4), st.Dirty)
	assert.Equal(t, uint64(4), st.Used)
	assert.Equal(t, int64(4), st.Distance)
	assert.Equal(t, uint64(2), st.Reads)
	assert.Equal(t, uint64(1), st.ReadHits)
	assert.Equal(t, uint64(1), st.SinglePages)
	assert.InDelta(t, 0.5, st.HitRatio(), 0.001)
	assert.Zero(t, e.store.Writes(), "write-back defers tablespace writes")
}

func TestWriteBatch(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(1, 10), testPg(2, 10), testPg(1, 12), testPg(3, 10))

	blocks := c.Blocks()
	require.Len(t, blocks, 3, "duplicates in a batch collapse to the newest")
	for i, b := range blocks {
		assert.Equal(t, uint32(i*4), b.Offset)
	}
	got, hit := mustRead(t, c, 1)
	require.True(t, hit)
	assert.Equal(t, uint64(12), page.LSN(got))
	assert.Equal(t, uint64(3), c.Status().DoublewritePages)
}

func TestWriteBatch_TooLarge(t *testing.T) {
	e := newEnv(t, 16)
	c := e.open()
	defer c.Close(context.Background())

	err := c.WriteBatch(context.Background(), [][]byte{testPg(1, 1), testPg(2, 1), testPg(3, 1)})
	assert.ErrorIs(t, err, ErrInvalidPage)
	assert.Empty(t, c.Blocks())
}

func TestWrite_WrongPageSize(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	pg := page.New(testSpace, 1, 8<<10, page.TypeIndex, 1, nil)
	assert.ErrorIs(t, c.WritePage(context.Background(), pg), ErrInvalidPage)
}

func TestWrite_ReplacesOlderCopy(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(7, 1))
	mustWrite(t, c, testPg(7, 2))

	blocks := c.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(4), blocks[0].Offset, "the new copy lands at the write cursor")

	got, _ := mustRead(t, c, 7)
	assert.Equal(t, uint64(2), page.LSN(got))

	st := c.Status()
	assert.Equal(t, uint64(1), st.Merged)
	assert.Equal(t, uint64(4), st.Dirty)
	assert.Equal(t, int64(8), st.Distance, "the old slots stay in the dirty region until flushed")
}

func TestWrite_DroppedSpace(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	pg := page.New(9, 1, testPage, page.TypeIndex, 1, nil)
	require.NoError(t, c.WritePage(context.Background(), pg))
	assert.Empty(t, c.Blocks())

	buf := []byte{1, 2, 3}
	hit, err := c.ReadPage(context.Background(), 9, 1, buf, true)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestWrite_DeviceFailure(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	e.dev.FailWrites(true)
	err := c.WritePage(context.Background(), testPg(1, 1))
	assert.ErrorIs(t, err, ErrDeviceIO)
	assert.ErrorIs(t, err, device.ErrInjected)
	e.dev.FailWrites(false)

	_, ok := c.Lookup(testSpace, 1)
	assert.False(t, ok, "a failed write leaves nothing registered")
	assert.NoError(t, c.Validate())
}

func TestRead_CorruptedFallsBack(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	old := testPg(5, 1)
	require.NoError(t, e.store.WritePage(context.Background(), testSpace, 5, old))
	mustWrite(t, c, testPg(5, 2))

	b, ok := c.Lookup(testSpace, 5)
	require.True(t, ok)
	e.dev.Corrupt(int64(b.Offset)*testSlot + 200)

	got, hit := mustRead(t, c, 5)
	assert.False(t, hit)
	assert.Equal(t, old, got)

	_, ok = c.Lookup(testSpace, 5)
	assert.False(t, ok, "the corrupted copy is discarded")
	assert.Equal(t, uint64(1), c.Status().CorruptionDetected)
	assert.NoError(t, c.Validate())
}

func TestRead_WaitsForFlushInFlight(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(5, 1))
	b, _, ok := c.acquire(Key{Space: testSpace, Page: 5}, 0, FlushInFlight)
	require.True(t, ok)

	buf := make([]byte, testPage)
	read := pending(func() error {
		_, err := c.ReadPage(context.Background(), testSpace, 5, buf, true)
		return err
	})
	blocked(t, read, "read")

	c.release(b, FlushInFlight)
	require.NoError(t, finished(t, read, "read"))
	assert.Equal(t, testPg(5, 1), buf)
}

func TestRead_CorruptedLeavesClaimedBlockToFlush(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(5, 1))
	b, _, ok := c.acquire(Key{Space: testSpace, Page: 5}, 0, FlushInFlight)
	require.True(t, ok)

	assert.False(t, c.discardCorrupt(b))
	_, ok = c.Lookup(testSpace, 5)
	assert.True(t, ok, "a block claimed by a flush stays registered")
	assert.Equal(t, uint64(4), c.Status().Dirty)

	c.release(b, FlushInFlight)
	assert.True(t, c.discardCorrupt(b))
	_, ok = c.Lookup(testSpace, 5)
	assert.False(t, ok)
	assert.NoError(t, c.Validate())
}

func TestReadAsync(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(8, 3))
	buf := make([]byte, testPage)
	req := c.ReadPageAsync(context.Background(), testSpace, 8, buf)
	<-req.Done()
	hit, err := req.Wait()
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, uint64(3), page.LSN(buf))
}

func TestInvalidate(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(1, 1), testPg(2, 1))
	require.NoError(t, c.Invalidate(testSpace, 1))
	require.NoError(t, c.Invalidate(testSpace, 99), "invalidating an uncached page is a no-op")

	_, ok := c.Lookup(testSpace, 1)
	assert.False(t, ok)
	st := c.Status()
	assert.Equal(t, uint64(4), st.Dirty)
	assert.Equal(t, uint64(1), st.Invalidated)
}

func TestWritesDisabled(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(1, 1))
	require.NoError(t, c.SetWriteEnabled(false))
	assert.False(t, c.WriteEnabled())
	assert.False(t, c.LogRecord().EnableWrite)

	mustWrite(t, c, testPg(1, 2), testPg(2, 2))
	assert.Empty(t, c.Blocks(), "writes invalidate instead of caching")

	require.NoError(t, c.SetWriteEnabled(true))
	rec := c.LogRecord()
	assert.True(t, rec.HasBackup())
	assert.Equal(t, c.Status().Write, rec.Backup)
}

func TestWriteThrough(t *testing.T) {
	e := newEnv(t, 64, func(c *Config) { c.WriteMode = fclog.WriteThrough })
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(1, 1), testPg(2, 1))
	b, ok := c.Lookup(testSpace, 2)
	require.True(t, ok)
	assert.Equal(t, ReadCache, b.State)

	st := c.Status()
	assert.Zero(t, st.Dirty)
	assert.Zero(t, st.Distance)
	assert.Equal(t, "write_through", st.WriteModeName)

	res, err := c.Flush(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, res.Pages)
}

func TestClose(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	mustWrite(t, c, testPg(1, 1), testPg(2, 1))
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, 2, e.store.Writes(), "close flushes dirty pages")
	assert.ErrorIs(t, c.WritePage(context.Background(), testPg(3, 1)), ErrClosed)
	_, err := c.ReadPage(context.Background(), testSpace, 1, make([]byte, testPage), true)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Flush(context.Background(), true)
	assert.ErrorIs(t, err, ErrClosed)

	rec, err := fclog.ReadFile(e.cfg.LogPath)
	require.NoError(t, err)
	assert.True(t, rec.BeenShutdown)
	assert.Equal(t, rec.Write, rec.Flush)
}

func TestClose_Fast(t *testing.T) {
	e := newEnv(t, 64, func(c *Config) { c.FastShutdown = true })
	c := e.open()
	mustWrite(t, c, testPg(1, 1))
	require.NoError(t, c.Close(context.Background()))
	assert.Zero(t, e.store.Writes())

	rec, err := fclog.ReadFile(e.cfg.LogPath)
	require.NoError(t, err)
	assert.Equal(t, int64(4), distance(rec.Write, rec.Flush, 64))
}

func TestMetrics(t *testing.T) {
	rec := newRecorder()
	e := newEnv(t, 64, func(c *Config) { c.Metrics = rec })
	c := e.open()
	defer c.Close(context.Background())

	mustWrite(t, c, testPg(1, 1), testPg(2, 1))
	mustRead(t, c, 1)
	mustRead(t, c, 3)
	_, err := c.Flush(context.Background(), true)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.writes[SourceDoublewrite])
	assert.Equal(t, 1, rec.reads[ReadHit])
	assert.Equal(t, 1, rec.reads[ReadMiss])
	assert.Equal(t, 2, rec.flushed)
	assert.Equal(t, uint32(64), rec.lastCap)
	assert.Zero(t, rec.lastDirty)
}

func TestSetFlushTuning(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())

	assert.ErrorIs(t, c.SetFlushTuning(FlushTuning{IOCapacity: 0}), ErrInvalidConfig)
	assert.ErrorIs(t, c.SetFlushTuning(FlushTuning{IOCapacity: 1, FullFlushPct: 200}), ErrInvalidConfig)
	require.NoError(t, c.SetFlushTuning(FlushTuning{IOCapacity: 1, WriteCachePct: 0, FullFlushPct: 100}))

	mustWrite(t, c, testPg(1, 1), testPg(2, 1))
	res, err := c.Flush(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), res.Target, "one page of io capacity")
	assert.Equal(t, 1, res.Pages)
}
