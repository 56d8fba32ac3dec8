package flashcache

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/flashcache/pkg/bufpool"
	"github.com/marmos91/flashcache/pkg/codec"
)

// Compressed block layout, big-endian:
//
//	0           marker
//	4           packed size in bytes (slot aligned)
//	8           space
//	12          page
//	16          original page size
//	20          codec id
//	24          compressed payload size
//	64          payload
//	packed-4    marker
const (
	packMarker     uint32 = 0xFFFFFFFB
	packHeaderSize        = 64
	packOverhead          = packHeaderSize + 4

	offPackSize  = 4
	offPackSpace = 8
	offPackPage  = 12
	offPackOrig  = 16
	offPackCodec = 20
	offPackLen   = 24
)

// packedHeader is the decoded header of a compressed block.
type packedHeader struct {
	size    uint32
	space   uint32
	page    uint32
	orig    uint32
	codec   codec.ID
	payload uint32
}

// alignPacked returns the slot-aligned size of a packed block holding n
// payload bytes.
func (c *Cache) alignPacked(n int) int {
	s := c.slotSize
	return (n + packOverhead + s - 1) / s * s
}

// slotsFor returns the slots needed for n bytes.
func (c *Cache) slotsFor(n int) uint32 {
	return uint32((n + c.slotSize - 1) / c.slotSize)
}

// packed is a page ready to be written to the ring.
type packed struct {
	buf            []byte
	slots          uint32
	origSlots      uint32
	compressedSize uint32
}

func (p *packed) free() {
	bufpool.Put(p.buf)
	p.buf = nil
}

// pack prepares pg for the ring. Only uncompressed full-size pages are
// compressed, and only when that saves at least one slot.
func (c *Cache) pack(pg []byte, space, pageNo uint32) (packed, error) {
	origSlots := c.slotsFor(len(pg))
	if c.codec != nil && len(pg) == c.cfg.PageSize {
		tmp := bufpool.Get(len(pg))
		out, err := c.codec.Compress(tmp[:0], pg)
		if err != nil {
			bufpool.Put(tmp)
			return packed{}, fmt.Errorf("compress %d:%d: %w", space, pageNo, err)
		}
		total := c.alignPacked(len(out))
		if total <= len(pg)-c.slotSize {
			buf := bufpool.Get(total)
			clear(buf)
			binary.BigEndian.PutUint32(buf[0:], packMarker)
			binary.BigEndian.PutUint32(buf[offPackSize:], uint32(total))
			binary.BigEndian.PutUint32(buf[offPackSpace:], space)
			binary.BigEndian.PutUint32(buf[offPackPage:], pageNo)
			binary.BigEndian.PutUint32(buf[offPackOrig:], uint32(len(pg)))
			binary.BigEndian.PutUint32(buf[offPackCodec:], uint32(c.codec.ID()))
			binary.BigEndian.PutUint32(buf[offPackLen:], uint32(len(out)))
			copy(buf[packHeaderSize:], out)
			binary.BigEndian.PutUint32(buf[total-4:], packMarker)
			bufpool.Put(tmp)

			c.stats.compressedPages.Add(1)
			c.stats.compressedBytesIn.Add(uint64(len(pg)))
			c.stats.compressedBytesOut.Add(uint64(total))
			if c.metrics != nil {
				c.metrics.RecordCompression(len(pg), total)
			}
			return packed{
				buf:            buf,
				slots:          uint32(total / c.slotSize),
				origSlots:      origSlots,
				compressedSize: uint32(len(out)),
			}, nil
		}
		bufpool.Put(tmp)
	}

	n := int(origSlots) * c.slotSize
	buf := bufpool.Get(n)
	copy(buf, pg)
	clear(buf[len(pg):])
	return packed{buf: buf, slots: origSlots, origSlots: origSlots}, nil
}

// parsePacked decodes and checks the header of a compressed block. maxSize
// bounds the packed size.
func parsePacked(raw []byte, maxSize int) (packedHeader, bool) {
	if len(raw) < packOverhead || binary.BigEndian.Uint32(raw[0:]) != packMarker {
		return packedHeader{}, false
	}
	h := packedHeader{
		size:    binary.BigEndian.Uint32(raw[offPackSize:]),
		space:   binary.BigEndian.Uint32(raw[offPackSpace:]),
		page:    binary.BigEndian.Uint32(raw[offPackPage:]),
		orig:    binary.BigEndian.Uint32(raw[offPackOrig:]),
		codec:   codec.ID(binary.BigEndian.Uint32(raw[offPackCodec:])),
		payload: binary.BigEndian.Uint32(raw[offPackLen:]),
	}
	if h.size < packOverhead || int(h.size) > maxSize || int(h.size) > len(raw) {
		return packedHeader{}, false
	}
	if h.payload > h.size-packOverhead {
		return packedHeader{}, false
	}
	if binary.BigEndian.Uint32(raw[h.size-4:]) != packMarker {
		return packedHeader{}, false
	}
	return h, true
}

// unpack decodes the stored form of b from raw into dst, which must be the
// page size of b's space.
func (c *Cache) unpack(b *Block, raw, dst []byte) error {
	if !b.Compressed() {
		if len(raw) < len(dst) {
			return fmt.Errorf("%w: %d:%d short block", ErrCorrupted, b.Space, b.Page)
		}
		copy(dst, raw[:len(dst)])
		return c.verify(b, dst)
	}

	h, ok := parsePacked(raw, int(b.Slots)*c.slotSize)
	if !ok {
		return fmt.Errorf("%w: %d:%d bad packed header at slot %d", ErrCorrupted, b.Space, b.Page, b.Offset)
	}
	if h.space != b.Space || h.page != b.Page || int(h.orig) != len(dst) {
		return fmt.Errorf("%w: %d:%d header names %d:%d", ErrCorrupted, b.Space, b.Page, h.space, h.page)
	}
	if !b.Legacy && h.payload != b.CompressedSize {
		return fmt.Errorf("%w: %d:%d payload %d, expected %d", ErrCorrupted, b.Space, b.Page, h.payload, b.CompressedSize)
	}
	cd, err := codec.ByID(h.codec)
	if err != nil {
		return fmt.Errorf("%w: %d:%d: %w", ErrCorrupted, b.Space, b.Page, err)
	}
	out, err := cd.Decompress(dst[:0], raw[packHeaderSize:packHeaderSize+h.payload], len(dst))
	if err != nil {
		return fmt.Errorf("%w: %d:%d: %w", ErrCorrupted, b.Space, b.Page, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: %d:%d decompressed %d bytes", ErrCorrupted, b.Space, b.Page, len(out))
	}
	if &out[0] != &dst[0] {
		copy(dst, out)
	}
	return c.verify(b, dst)
}

// verify checks the checksum and identity of a decoded page.
func (c *Cache) verify(b *Block, pg []byte) error {
	if c.inspect.IsCorrupted(pg) {
		return fmt.Errorf("%w: %d:%d checksum mismatch", ErrCorrupted, b.Space, b.Page)
	}
	if c.inspect.SpaceID(pg) != b.Space || c.inspect.PageNo(pg) != b.Page {
		return fmt.Errorf("%w: slot %d holds %d:%d, expected %d:%d", ErrCorrupted, b.Offset,
			c.inspect.SpaceID(pg), c.inspect.PageNo(pg), b.Space, b.Page)
	}
	return nil
}

// readStored reads b's slots from the device into a pooled buffer.
func (c *Cache) readStored(b *Block) ([]byte, error) {
	n := int(b.Slots) * c.slotSize
	buf := bufpool.Get(n)
	if _, err := c.dev.ReadAt(buf, int64(b.Offset)*int64(c.slotSize)); err != nil {
		bufpool.Put(buf)
		return nil, fmt.Errorf("%w: read slot %d: %w", ErrDeviceIO, b.Offset, err)
	}
	return buf, nil
}

// load reads and decodes b into dst.
func (c *Cache) load(b *Block, dst []byte) error {
	raw, err := c.readStored(b)
	if err != nil {
		return err
	}
	defer bufpool.Put(raw)
	return c.unpack(b, raw, dst)
}
