// Package page reads and stamps the handful of tablespace page header fields
// the flash cache relies on: identity, LSN, type and checksum.
//
// Layout (big-endian):
//
//	0        checksum (xxhash64 of [4 : size-8], truncated to 32 bits)
//	4        page number
//	16       newest modification LSN (u64)
//	24       page type (u16)
//	34       space id
//	size-8   checksum copy
//	size-4   low 32 bits of the LSN
//
// A page's size is not stored in the page. The tablespace store knows the size
// of each space; InferSize recovers it from the trailer when the space is
// unknown, for example after it was dropped.
package page

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	OffChecksum = 0
	OffPageNo   = 4
	OffLSN      = 16
	OffType     = 24
	OffSpace    = 34

	// HeaderSize is the number of leading bytes covering every header field.
	HeaderSize = 38

	// TrailerSize is the checksum copy plus the low LSN word.
	TrailerSize = 8

	// MinSize and MaxSize bound the page sizes a tablespace may use.
	MinSize = 1 << 10
	MaxSize = 16 << 10
)

// Type is the on-page type code.
type Type uint16

const (
	TypeAllocated  Type = 0
	TypeInode      Type = 3
	TypeIbufBitmap Type = 5
	TypeTrxSys     Type = 7
	TypeFspHdr     Type = 8
	TypeIndex      Type = 17855
)

func (t Type) String() string {
	switch t {
	case TypeAllocated:
		return "allocated"
	case TypeInode:
		return "inode"
	case TypeIbufBitmap:
		return "ibuf_bitmap"
	case TypeTrxSys:
		return "trx_sys"
	case TypeFspHdr:
		return "fsp_hdr"
	case TypeIndex:
		return "index"
	default:
		return "other"
	}
}

func SpaceID(buf []byte) uint32 { return binary.BigEndian.Uint32(buf[OffSpace:]) }
func PageNo(buf []byte) uint32  { return binary.BigEndian.Uint32(buf[OffPageNo:]) }
func LSN(buf []byte) uint64     { return binary.BigEndian.Uint64(buf[OffLSN:]) }
func TypeOf(buf []byte) Type    { return Type(binary.BigEndian.Uint16(buf[OffType:])) }

// Checksum computes the checksum of a page of len(buf) bytes.
func Checksum(buf []byte) uint32 {
	return uint32(xxhash.Sum64(buf[OffPageNo : len(buf)-TrailerSize]))
}

// Stamp writes the header checksum and the trailer of buf. Callers set the
// identity, LSN and type first.
func Stamp(buf []byte) {
	sum := Checksum(buf)
	binary.BigEndian.PutUint32(buf[OffChecksum:], sum)
	binary.BigEndian.PutUint32(buf[len(buf)-TrailerSize:], sum)
	binary.BigEndian.PutUint32(buf[len(buf)-4:], uint32(LSN(buf)))
}

// IsZero reports whether every byte of buf is zero.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsCorrupted reports whether buf fails its checksum or trailer checks. An
// all-zero buffer counts as corrupted: it never held a page.
func IsCorrupted(buf []byte) bool {
	if len(buf) < HeaderSize+TrailerSize || IsZero(buf) {
		return true
	}
	sum := binary.BigEndian.Uint32(buf[OffChecksum:])
	if sum != binary.BigEndian.Uint32(buf[len(buf)-TrailerSize:]) {
		return true
	}
	if binary.BigEndian.Uint32(buf[len(buf)-4:]) != uint32(LSN(buf)) {
		return true
	}
	return sum != Checksum(buf)
}

// InferSize returns the size of the page starting at buf by trying each
// power-of-two size from MinSize to MaxSize that fits in buf and checking its
// trailer and checksum. It returns 0 when no size validates.
func InferSize(buf []byte) int {
	for size := MinSize; size <= MaxSize && size <= len(buf); size <<= 1 {
		if !IsCorrupted(buf[:size]) {
			return size
		}
	}
	return 0
}

// IsIbufBitmap reports whether pageNo holds an insert-buffer bitmap for a
// space with the given page size. Bitmap pages repeat every pageSize pages at
// position 1.
func IsIbufBitmap(pageNo uint32, pageSize int) bool {
	return pageSize > 0 && pageNo%uint32(pageSize) == 1
}

// IsTrxSysHeader reports whether (space, pageNo) is the transaction system
// header page.
func IsTrxSysHeader(space, pageNo uint32) bool {
	return space == 0 && pageNo == 5
}

// New builds a stamped page of the given size. The body between the header and
// the trailer is filled from fill, repeated; a nil fill leaves it zeroed.
func New(space, pageNo uint32, size int, typ Type, lsn uint64, fill []byte) []byte {
	buf := make([]byte, size)
	Init(buf, space, pageNo, typ, lsn, fill)
	return buf
}

// Init writes a page into buf in place. See New.
func Init(buf []byte, space, pageNo uint32, typ Type, lsn uint64, fill []byte) {
	binary.BigEndian.PutUint32(buf[OffPageNo:], pageNo)
	binary.BigEndian.PutUint64(buf[OffLSN:], lsn)
	binary.BigEndian.PutUint16(buf[OffType:], uint16(typ))
	binary.BigEndian.PutUint32(buf[OffSpace:], space)
	if len(fill) > 0 {
		body := buf[HeaderSize : len(buf)-TrailerSize]
		for i := 0; i < len(body); i += len(fill) {
			copy(body[i:], fill)
		}
	}
	Stamp(buf)
}

// SetLSN updates the LSN of a stamped page and restamps it.
func SetLSN(buf []byte, lsn uint64) {
	binary.BigEndian.PutUint64(buf[OffLSN:], lsn)
	Stamp(buf)
}

// Inspector exposes the package functions as a value, for code that takes the
// page format as a dependency.
type Inspector struct{}

func (Inspector) IsCorrupted(buf []byte) bool { return IsCorrupted(buf) }
func (Inspector) LSN(buf []byte) uint64       { return LSN(buf) }
func (Inspector) SpaceID(buf []byte) uint32   { return SpaceID(buf) }
func (Inspector) PageNo(buf []byte) uint32    { return PageNo(buf) }
func (Inspector) Type(buf []byte) Type        { return TypeOf(buf) }
func (Inspector) PageSize(buf []byte) int     { return InferSize(buf) }
