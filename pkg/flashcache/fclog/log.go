package fclog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/marmos91/flashcache/internal/logger"
)

// UpdateKind selects which extra fields an Update refreshes.
type UpdateKind int

const (
	// Write refreshes the current cursors only.
	Write UpdateKind = iota
	// UpdateWrite records the current write cursor as the backup marker,
	// taken when writes are re-enabled after being disabled.
	UpdateWrite
	// UpdateDump records the current cursors as the dump cursors.
	UpdateDump
	// UpdateShutdown marks a clean shutdown.
	UpdateShutdown
)

func (k UpdateKind) String() string {
	switch k {
	case Write:
		return "write"
	case UpdateWrite:
		return "update_write"
	case UpdateDump:
		return "update_dump"
	case UpdateShutdown:
		return "update_shutdown"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Snapshot is the cache state an Update copies into the record.
type Snapshot struct {
	Write       Cursor
	Flush       Cursor
	EnableWrite bool
}

// Params are the settings the cache was configured with.
type Params struct {
	// BlockSize is the ring slot size in bytes.
	BlockSize uint32
	// PageSize is used when an old record stores a zero block size.
	PageSize    uint32
	WriteMode   WriteMode
	Compress    bool
	Codec       uint32
	EnableWrite bool
	EnableDump  bool
}

// region is the durable home of the encoded record.
type region interface {
	read() ([]byte, error)
	commit(buf []byte) error
	close() error
}

// Log owns the persistent record. All methods are safe for concurrent use.
type Log struct {
	mu         sync.Mutex
	path       string
	region     region
	rec        Record
	buf        []byte
	enableDump bool
	firstUse   bool
	closed     bool
}

// Open creates the log at path or opens and validates an existing one.
//
// A new log starts with zero cursors and no backup marker; nothing is written
// until the first Commit. An existing log must match p.BlockSize, and p.Codec
// when compression is enabled. A differing write mode is ignored: the stored
// mode wins.
func Open(path string, p Params) (*Log, error) {
	f, created, err := openFile(path)
	if err != nil {
		return nil, err
	}

	r, err := openRegion(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	l := &Log{
		path:       path,
		region:     r,
		buf:        make([]byte, RecordSize),
		enableDump: p.EnableDump,
	}

	if !created {
		raw, err := r.read()
		if err != nil {
			_ = r.close()
			return nil, fmt.Errorf("read log: %w", err)
		}
		// A record never committed is indistinguishable from a new log.
		created = isZero(raw)
		if !created {
			if err := l.load(raw, p); err != nil {
				_ = r.close()
				return nil, err
			}
		}
	}

	if created {
		l.firstUse = true
		l.rec = Record{
			WriteMode:   p.WriteMode,
			EnableWrite: p.EnableWrite,
			Backup:      Cursor{Offset: NoBackup},
			BlockSize:   p.BlockSize,
			Version:     CurrentVersion,
			Codec:       p.Codec,
		}
		logger.Info("Cache log created", logger.Path(path), logger.Size(uint64(p.BlockSize)))
	}
	return l, nil
}

func (l *Log) load(raw []byte, p Params) error {
	var rec Record
	if err := rec.UnmarshalBinary(raw); err != nil {
		return err
	}

	if rec.BlockSize == 0 {
		rec.BlockSize = p.PageSize
	}
	if rec.BlockSize != p.BlockSize {
		return fmt.Errorf("%w: block size %d recorded, %d configured", ErrConfigMismatch, rec.BlockSize, p.BlockSize)
	}
	if p.Compress && rec.Codec != 0 && rec.Codec != p.Codec {
		return fmt.Errorf("%w: codec %d recorded, %d configured", ErrConfigMismatch, rec.Codec, p.Codec)
	}
	if rec.WriteMode != p.WriteMode {
		logger.Warn("Ignoring write mode change, keeping recorded mode",
			logger.WriteMode(rec.WriteMode.String()),
			logger.Reason("configured "+p.WriteMode.String()))
	}
	if rec.Codec == 0 && p.Compress {
		rec.Codec = p.Codec
	}

	l.rec = rec
	logger.Debug("Cache log loaded",
		logger.Path(l.path),
		logger.Version(rec.Version),
		logger.Offset(rec.Write.Offset),
		logger.Round(rec.Write.Round))
	return nil
}

func openFile(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err == nil {
		if err := f.Truncate(RecordSize); err != nil {
			_ = f.Close()
			return nil, false, fmt.Errorf("size log: %w", err)
		}
		return f, true, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, false, fmt.Errorf("create log: %w", err)
	}

	f, err = os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, false, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < RecordSize {
		if err := f.Truncate(RecordSize); err != nil {
			_ = f.Close()
			return nil, false, fmt.Errorf("size log: %w", err)
		}
	}
	return f, false, nil
}

func isZero(b []byte) bool {
	return bytes.Count(b, []byte{0}) == len(b)
}

// ReadFile decodes the record stored at path without opening it for writing.
func ReadFile(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	buf := make([]byte, RecordSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var rec Record
	if err := rec.UnmarshalBinary(buf); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// FirstUse reports whether the log was created by this Open.
func (l *Log) FirstUse() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstUse
}

// Record returns a copy of the in-memory record.
func (l *Log) Record() Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec
}

// Update copies snap into the in-memory record. It does not persist anything;
// call Commit for that.
func (l *Log) Update(init bool, kind UpdateKind, snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	r := &l.rec
	r.Write = snap.Write
	r.Flush = snap.Flush
	r.EnableWrite = snap.EnableWrite
	r.Skipped = 0

	if init {
		r.Backup.Offset = NoBackup
		r.BeenShutdown = false
	}

	switch kind {
	case UpdateWrite:
		r.Backup = snap.Write
		logger.Info("Cache log backup cursor updated",
			logger.Offset(snap.Write.Offset), logger.Round(snap.Write.Round))
	case UpdateDump:
		r.DumpWrite, r.DumpFlush = snap.Write, snap.Flush
	case UpdateShutdown:
		r.BeenShutdown = true
		if l.enableDump {
			r.DumpWrite, r.DumpFlush = snap.Write, snap.Flush
		}
	}

	if aheadInRound(r.DumpFlush, r.Flush) || aheadInRound(r.DumpWrite, r.Write) {
		if !init {
			return fmt.Errorf("%w: dump write %d/%d flush %d/%d, current write %d/%d flush %d/%d",
				ErrDumpAhead,
				r.DumpWrite.Offset, r.DumpWrite.Round, r.DumpFlush.Offset, r.DumpFlush.Round,
				r.Write.Offset, r.Write.Round, r.Flush.Offset, r.Flush.Round)
		}
		// Recovery rewound the cursors; the old dump no longer describes them.
		r.DumpWrite, r.DumpFlush = r.Write, r.Flush
	}
	return nil
}

func aheadInRound(dump, cur Cursor) bool {
	return dump.Round == cur.Round && dump.Offset > cur.Offset
}

// Commit persists the in-memory record. The skipped block count is always
// written as zero; CommitSkipped records it separately.
func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	rec := l.rec
	rec.Skipped = 0
	rec.encode(l.buf)
	if err := l.region.commit(l.buf); err != nil {
		return fmt.Errorf("commit log: %w", err)
	}
	l.firstUse = false
	return nil
}

// CommitSkipped persists the number of ring slots skipped at wraparound
// without touching the other fields of the last committed record.
func (l *Log) CommitSkipped(n uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	l.rec.Skipped = n
	if isZero(l.buf) {
		l.rec.encode(l.buf)
	}
	binary.BigEndian.PutUint32(l.buf[offSkipped:], n)
	if err := l.region.commit(l.buf); err != nil {
		return fmt.Errorf("commit log: %w", err)
	}
	return nil
}

// Close releases the file. It does not commit.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.region.close()
}
