// Package fclog persists the cache's ring cursors and settings in a single
// 512-byte record.
//
// Record layout (big-endian, 4-byte fields):
//
//	  0  checksum           36  flush_offset_dump
//	  4  flush_offset       40  write_offset_dump
//	  8  write_offset       44  flush_round_dump
//	 12  flush_round        48  write_round_dump
//	 16  write_round        52  block_byte_size
//	 20  write_mode         56  version
//	 24  enable_write       60  been_shutdown
//	 28  write_round_bck    64  skipped_blocks
//	 32  write_offset_bck   68  compress_algorithm
//	508  checksum2
package fclog

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// RecordSize is the on-disk size of a log record.
const RecordSize = 512

// Checksum is the constant stored in both checksum fields.
const Checksum uint32 = 4294967291

// Record versions.
const (
	Version4  uint32 = 55304
	Version5  uint32 = 55305
	Version61 uint32 = 56191

	CurrentVersion = Version61
)

// NoBackup in Backup.Offset means writes stayed enabled since start.
const NoBackup uint32 = 0xFFFFFFFF

const (
	offChecksum       = 0
	offFlushOffset    = 4
	offWriteOffset    = 8
	offFlushRound     = 12
	offWriteRound     = 16
	offWriteMode      = 20
	offEnableWrite    = 24
	offWriteRoundBck  = 28
	offWriteOffsetBck = 32
	offFlushOffDump   = 36
	offWriteOffDump   = 40
	offFlushRoundDump = 44
	offWriteRoundDump = 48
	offBlockSize      = 52
	offVersion        = 56
	offBeenShutdown   = 60
	offSkipped        = 64
	offCodec          = 68
	offChecksum2      = 508
)

// WriteMode selects how the cache treats writes.
type WriteMode uint32

const (
	// WriteBack caches dirty pages and flushes them later.
	WriteBack WriteMode = 0
	// WriteThrough caches clean copies; the caller writes the tablespace.
	WriteThrough WriteMode = 1
)

func (m WriteMode) String() string {
	switch m {
	case WriteBack:
		return "write_back"
	case WriteThrough:
		return "write_through"
	default:
		return fmt.Sprintf("WriteMode(%d)", uint32(m))
	}
}

// ParseWriteMode parses "write_back" or "write_through".
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "write_back", "":
		return WriteBack, nil
	case "write_through":
		return WriteThrough, nil
	default:
		return 0, fmt.Errorf("unknown write mode %q", s)
	}
}

// Cursor is a position in the ring: a slot offset and the number of times
// the ring has wrapped.
type Cursor struct {
	Offset uint32 `json:"offset" yaml:"offset"`
	Round  uint32 `json:"round" yaml:"round"`
}

// Before reports whether c is strictly behind o.
func (c Cursor) Before(o Cursor) bool {
	if c.Round != o.Round {
		return c.Round < o.Round
	}
	return c.Offset < o.Offset
}

// Record is the decoded log record.
type Record struct {
	Flush        Cursor    `json:"flush" yaml:"flush"`
	Write        Cursor    `json:"write" yaml:"write"`
	WriteMode    WriteMode `json:"write_mode" yaml:"write_mode"`
	EnableWrite  bool      `json:"enable_write" yaml:"enable_write"`
	Backup       Cursor    `json:"backup" yaml:"backup"`
	DumpFlush    Cursor    `json:"dump_flush" yaml:"dump_flush"`
	DumpWrite    Cursor    `json:"dump_write" yaml:"dump_write"`
	BlockSize    uint32    `json:"block_size" yaml:"block_size"`
	Version      uint32    `json:"version" yaml:"version"`
	BeenShutdown bool      `json:"been_shutdown" yaml:"been_shutdown"`
	Skipped      uint32    `json:"skipped_blocks" yaml:"skipped_blocks"`
	Codec        uint32    `json:"compress_algorithm" yaml:"compress_algorithm"`
}

// HasBackup reports whether a write-disable marker is recorded.
func (r Record) HasBackup() bool {
	return r.Backup.Offset != NoBackup
}

// Legacy reports whether blocks written under this record use the old
// layout where compressed sizes are stored in slots.
func (r Record) Legacy() bool {
	return r.Version < Version5
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// MarshalBinary encodes the record into RecordSize bytes.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	r.encode(buf)
	return buf, nil
}

func (r Record) encode(buf []byte) {
	be := binary.BigEndian
	be.PutUint32(buf[offChecksum:], Checksum)
	be.PutUint32(buf[offFlushOffset:], r.Flush.Offset)
	be.PutUint32(buf[offWriteOffset:], r.Write.Offset)
	be.PutUint32(buf[offFlushRound:], r.Flush.Round)
	be.PutUint32(buf[offWriteRound:], r.Write.Round)
	be.PutUint32(buf[offWriteMode:], uint32(r.WriteMode))
	be.PutUint32(buf[offEnableWrite:], b2u(r.EnableWrite))
	be.PutUint32(buf[offWriteRoundBck:], r.Backup.Round)
	be.PutUint32(buf[offWriteOffsetBck:], r.Backup.Offset)
	be.PutUint32(buf[offFlushOffDump:], r.DumpFlush.Offset)
	be.PutUint32(buf[offWriteOffDump:], r.DumpWrite.Offset)
	be.PutUint32(buf[offFlushRoundDump:], r.DumpFlush.Round)
	be.PutUint32(buf[offWriteRoundDump:], r.DumpWrite.Round)
	be.PutUint32(buf[offBlockSize:], r.BlockSize)
	be.PutUint32(buf[offVersion:], r.Version)
	be.PutUint32(buf[offBeenShutdown:], b2u(r.BeenShutdown))
	be.PutUint32(buf[offSkipped:], r.Skipped)
	be.PutUint32(buf[offCodec:], r.Codec)
	be.PutUint32(buf[offChecksum2:], Checksum)
}

// UnmarshalBinary decodes and validates a record.
func (r *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) < RecordSize {
		return fmt.Errorf("%w: short record (%d bytes)", ErrCorrupted, len(buf))
	}
	be := binary.BigEndian
	c1, c2 := be.Uint32(buf[offChecksum:]), be.Uint32(buf[offChecksum2:])
	if c1 != Checksum || c2 != Checksum {
		return fmt.Errorf("%w: checksums %d/%d", ErrCorrupted, c1, c2)
	}

	version := be.Uint32(buf[offVersion:])
	switch version {
	case Version4, Version5, Version61:
	default:
		return fmt.Errorf("%w: %d", ErrVersionMismatch, version)
	}

	*r = Record{
		Flush:        Cursor{Offset: be.Uint32(buf[offFlushOffset:]), Round: be.Uint32(buf[offFlushRound:])},
		Write:        Cursor{Offset: be.Uint32(buf[offWriteOffset:]), Round: be.Uint32(buf[offWriteRound:])},
		WriteMode:    WriteMode(be.Uint32(buf[offWriteMode:])),
		EnableWrite:  be.Uint32(buf[offEnableWrite:]) != 0,
		Backup:       Cursor{Offset: be.Uint32(buf[offWriteOffsetBck:]), Round: be.Uint32(buf[offWriteRoundBck:])},
		DumpFlush:    Cursor{Offset: be.Uint32(buf[offFlushOffDump:]), Round: be.Uint32(buf[offFlushRoundDump:])},
		DumpWrite:    Cursor{Offset: be.Uint32(buf[offWriteOffDump:]), Round: be.Uint32(buf[offWriteRoundDump:])},
		BlockSize:    be.Uint32(buf[offBlockSize:]),
		Version:      version,
		BeenShutdown: be.Uint32(buf[offBeenShutdown:]) != 0,
		Skipped:      be.Uint32(buf[offSkipped:]),
		Codec:        be.Uint32(buf[offCodec:]),
	}
	return nil
}
