package flashcache

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/pkg/codec"
	"github.com/marmos91/flashcache/pkg/page"
)

const (
	bigPage  = 16 << 10
	bigSpace = uint32(2)
)

func newCompressedEnv(t *testing.T) *env {
	e := newEnvSized(t, 4<<10, 64, func(c *Config) {
		c.PageSize = bigPage
		c.Compress = true
		c.Codec = codec.Zstd
	})
	require.NoError(t, e.store.Create(bigSpace, bigPage))
	return e
}

// halfRandomPage has random bytes in its first randomBytes of body and zeros
// after them.
func halfRandomPage(pageNo uint32, lsn uint64, randomBytes int) []byte {
	pg := page.New(bigSpace, pageNo, bigPage, page.TypeIndex, lsn, nil)
	r := rand.New(rand.NewSource(int64(pageNo)))
	r.Read(pg[page.HeaderSize : page.HeaderSize+randomBytes])
	page.Stamp(pg)
	return pg
}

func TestCompression(t *testing.T) {
	e := newCompressedEnv(t)
	c := e.open()
	ctx := context.Background()

	pg := halfRandomPage(7, 100, 6000)
	require.NoError(t, c.WritePage(ctx, pg))

	b, ok := c.Lookup(bigSpace, 7)
	require.True(t, ok)
	assert.Equal(t, uint32(2), b.Slots)
	assert.Equal(t, uint32(4), b.OrigSlots)
	assert.True(t, b.Compressed())

	buf := make([]byte, bigPage)
	hit, err := c.ReadPage(ctx, bigSpace, 7, buf, true)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, pg, buf)

	st := c.Status()
	assert.Equal(t, uint64(2), st.Used)
	assert.Equal(t, uint64(4), st.UsedUncompressed)
	assert.Equal(t, uint64(1), st.CompressedPages)
	assert.Equal(t, "zstd", st.Codec)

	require.NoError(t, c.CommitLog())
	c2 := e.crash()
	b2, ok := c2.Lookup(bigSpace, 7)
	require.True(t, ok, "compressed blocks are found by the recovery scan")
	assert.Equal(t, b.Offset, b2.Offset)
	assert.Equal(t, b.Slots, b2.Slots)
	assert.Equal(t, b.CompressedSize, b2.CompressedSize)

	_, err = c2.Flush(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, pg, e.store.Page(bigSpace, 7), "flush writes the decompressed page")
	require.NoError(t, c2.Close(ctx))
}

func TestCompression_Incompressible(t *testing.T) {
	e := newCompressedEnv(t)
	c := e.open()
	defer c.Close(context.Background())

	pg := halfRandomPage(3, 1, bigPage-page.HeaderSize-page.TrailerSize)
	require.NoError(t, c.WritePage(context.Background(), pg))

	b, ok := c.Lookup(bigSpace, 3)
	require.True(t, ok)
	assert.False(t, b.Compressed())
	assert.Equal(t, uint32(4), b.Slots)
	assert.Zero(t, c.Status().CompressedPages)
}

func TestCompression_CorruptedPayload(t *testing.T) {
	e := newCompressedEnv(t)
	c := e.open()
	defer c.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, c.WritePage(ctx, halfRandomPage(5, 1, 6000)))
	b, ok := c.Lookup(bigSpace, 5)
	require.True(t, ok)
	e.dev.Corrupt(int64(b.Offset)*(4<<10) + packHeaderSize + 100)

	buf := make([]byte, bigPage)
	hit, err := c.ReadPage(ctx, bigSpace, 5, buf, true)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, uint64(1), c.Status().CorruptionDetected)
}

func TestParsePacked(t *testing.T) {
	e := newCompressedEnv(t)
	c := e.open()
	defer c.Close(context.Background())

	pk, err := c.pack(halfRandomPage(1, 1, 2000), bigSpace, 1)
	require.NoError(t, err)
	defer pk.free()
	require.NotZero(t, pk.compressedSize)

	h, ok := parsePacked(pk.buf, bigPage)
	require.True(t, ok)
	assert.Equal(t, bigSpace, h.space)
	assert.Equal(t, uint32(1), h.page)
	assert.Equal(t, uint32(bigPage), h.orig)
	assert.Equal(t, codec.Zstd, h.codec)
	assert.Equal(t, pk.compressedSize, h.payload)
	assert.Equal(t, int(h.size), len(pk.buf))

	_, ok = parsePacked(pk.buf, int(h.size)-1)
	assert.False(t, ok, "larger than allowed")

	tail := append([]byte(nil), pk.buf...)
	tail[len(tail)-1] ^= 0xFF
	_, ok = parsePacked(tail, bigPage)
	assert.False(t, ok, "tail marker checked")

	_, ok = parsePacked(make([]byte, 8), bigPage)
	assert.False(t, ok)
}
