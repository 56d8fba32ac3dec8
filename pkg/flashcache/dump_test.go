package flashcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withDump(dir string) func(*Config) {
	return func(c *Config) {
		c.EnableDump = true
		c.DumpPath = filepath.Join(dir, "ib_flash_cache.dump")
	}
}

func TestDump_WarmStart(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, 64, withDump(dir), func(c *Config) { c.FastShutdown = true })
	c := e.open()
	mustWrite(t, c, testPg(1, 1), testPg(2, 1), testPg(3, 1))
	_, err := c.Flush(context.Background(), true)
	require.NoError(t, err)
	mustWrite(t, c, testPg(4, 1), testPg(5, 1))
	want := layout(c.Blocks())

	c2 := e.restart(c)
	defer c2.Close(context.Background())

	st := c2.Status()
	assert.Equal(t, SourceDump, st.Recovery.Source)
	assert.Equal(t, 5, st.Recovery.BlocksRecovered)
	assert.Equal(t, uint64(8), st.Dirty)
	assert.Equal(t, want, layout(c2.Blocks()))

	_, hit := mustRead(t, c2, 1)
	assert.True(t, hit, "flushed blocks survive a warm start")

	entries, err := ReadDump(e.cfg.DumpPath)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	assert.Equal(t, DumpEntry{Space: testSpace, Page: 4, Offset: 12, State: PendingFlush, OrigSlots: 4}, entries[3])
}

func TestDump_CatchUpAfterCrash(t *testing.T) {
	e := newEnv(t, 64, withDump(t.TempDir()))
	c := e.open()
	mustWrite(t, c, testPg(1, 1), testPg(2, 1))
	require.NoError(t, c.Dump(context.Background()))
	rec := c.LogRecord()
	assert.Equal(t, rec.Write, rec.DumpWrite)

	mustWrite(t, c, testPg(3, 1), testPg(1, 2))
	require.NoError(t, c.CommitLog())

	c2 := e.crash()
	defer c2.Close(context.Background())

	st := c2.Status()
	assert.Equal(t, SourceDump, st.Recovery.Source)
	assert.Equal(t, 3, st.Recovery.BlocksRecovered)
	assert.Equal(t, 1, st.Recovery.DuplicatesDropped, "the dumped copy of page 1 is superseded")

	b, ok := c2.Lookup(testSpace, 1)
	require.True(t, ok)
	assert.Equal(t, uint32(12), b.Offset)
	_, ok = c2.Lookup(testSpace, 3)
	assert.True(t, ok)
	assert.NoError(t, c2.Validate())
}

func TestDump_UnparsableFallsBackToScan(t *testing.T) {
	e := newEnv(t, 64, withDump(t.TempDir()))
	c := e.open()
	mustWrite(t, c, testPg(1, 1))
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, os.WriteFile(e.cfg.DumpPath, []byte("1,2,three\n"), 0644))

	e.dev.Reopen()
	c2 := e.open()
	defer c2.Close(context.Background())
	assert.Equal(t, SourceScan, c2.Status().Recovery.Source)
}

func TestDump_RemovedWhenDisabled(t *testing.T) {
	e := newEnv(t, 64, withDump(t.TempDir()), func(c *Config) { c.FastShutdown = true })
	c := e.open()
	mustWrite(t, c, testPg(1, 1))
	require.NoError(t, c.Close(context.Background()))

	e.cfg.EnableDump = false
	e.dev.Reopen()
	c2 := e.open()
	defer c2.Close(context.Background())

	assert.Equal(t, SourceDump, c2.Status().Recovery.Source)
	_, ok := c2.Lookup(testSpace, 1)
	assert.True(t, ok)
	_, err := os.Stat(e.cfg.DumpPath)
	assert.True(t, os.IsNotExist(err))
}

func TestDump_Closed(t *testing.T) {
	e := newEnv(t, 64, withDump(t.TempDir()))
	c := e.open()
	require.NoError(t, c.Close(context.Background()))
	assert.ErrorIs(t, c.Dump(context.Background()), ErrClosed)
}

func TestParseDump(t *testing.T) {
	entries, err := parseDump([]byte("1,2,3,1,4,0\n\n5,6,7,3,4,900\n"))
	require.NoError(t, err)
	assert.Equal(t, []DumpEntry{
		{Space: 1, Page: 2, Offset: 3, State: PendingFlush, OrigSlots: 4},
		{Space: 5, Page: 6, Offset: 7, State: Flushed, OrigSlots: 4, CompressedSize: 900},
	}, entries)

	for _, bad := range []string{"1,2,3\n", "1,2,3,0,4,0\n", "1,2,3,9,4,0\n", "a,2,3,1,4,0\n", "1,2,3,1,4,-1\n"} {
		_, err := parseDump([]byte(bad))
		assert.Error(t, err, bad)
	}
}
