package flashcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/pkg/page"
)

func TestOnEvict_Migrate(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())
	ctx := context.Background()

	act, err := c.OnEvict(ctx, testPg(1, 5), false)
	require.NoError(t, err)
	assert.Equal(t, LRUMigrated, act)

	b, ok := c.Lookup(testSpace, 1)
	require.True(t, ok)
	assert.Equal(t, ReadCache, b.State)
	assert.Zero(t, c.Status().Dirty)

	got, hit := mustRead(t, c, 1)
	assert.True(t, hit)
	assert.Equal(t, testPg(1, 5), got)

	act, err = c.OnEvict(ctx, testPg(1, 5), false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act, "a recent cached copy is left alone")
	assert.Equal(t, uint64(1), c.Status().Migrated)
}

func TestOnEvict_Ignored(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())
	ctx := context.Background()

	act, err := c.OnEvict(ctx, testPg(1, 1), true)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act, "modified pages go through the write path")

	other := page.New(testSpace, 2, testPage, page.TypeAllocated, 1, nil)
	act, err = c.OnEvict(ctx, other, false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act, "only index and inode pages are migrated")

	act, err = c.OnEvict(ctx, pageOf(77, 1, 1), false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act)

	c.SetMigrate(false)
	act, err = c.OnEvict(ctx, testPg(3, 1), false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act)
	assert.Empty(t, c.Blocks())
}

func TestOnEvict_Move(t *testing.T) {
	e := newEnv(t, 64)
	c := e.open()
	defer c.Close(context.Background())
	ctx := context.Background()

	mustWrite(t, c, testPg(1, 1))
	_, err := c.Flush(ctx, true)
	require.NoError(t, err)

	// Push the write cursor half a ring past page 1.
	for i := uint32(2); i < 10; i++ {
		mustWrite(t, c, testPg(i, 1))
	}

	act, err := c.OnEvict(ctx, testPg(2, 1), false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act, "dirty copies are never moved")

	c.SetMove(false)
	act, err = c.OnEvict(ctx, testPg(1, 1), false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act)

	c.SetMove(true)
	act, err = c.OnEvict(ctx, testPg(1, 1), false)
	require.NoError(t, err)
	assert.Equal(t, LRUMoved, act)

	b, ok := c.Lookup(testSpace, 1)
	require.True(t, ok)
	assert.Equal(t, uint32(36), b.Offset)
	assert.Equal(t, ReadCache, b.State)
	assert.Equal(t, uint64(1), c.Status().Moved)
	assert.NoError(t, c.Validate())
}

func TestOnEvict_GivesUpWithoutSpace(t *testing.T) {
	e := newEnv(t, 16)
	c := e.open()
	defer c.Close(context.Background())

	for i := uint32(0); i < 4; i++ {
		require.NoError(t, c.WritePage(context.Background(), testPg(i, 1)))
	}
	act, err := c.OnEvict(context.Background(), testPg(9, 1), false)
	require.NoError(t, err)
	assert.Equal(t, LRUNone, act, "migration never waits for the flusher")
	_, ok := c.Lookup(testSpace, 9)
	assert.False(t, ok)
}

func TestLRUActionString(t *testing.T) {
	assert.Equal(t, "migrated", LRUMigrated.String())
	assert.Equal(t, "moved", LRUMoved.String())
	assert.Equal(t, "none", LRUNone.String())
}
