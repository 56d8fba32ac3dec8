// Package backup copies the dirty pages of a flash cache to a standalone file
// and restores them into a tablespace.
//
// A backup file starts with a 1 KiB header:
//
//	0   page position in KiB   (u64, big-endian)
//	8   metadata position in KiB (u64)
//	16  page count             (u64)
//	24  backup id              (16 bytes)
//
// The pages follow, uncompressed and in (space, page) order. The metadata
// table lists (space u32, page u32, size in KiB u64) for each page and is
// padded to a KiB boundary.
package backup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/internal/telemetry"
	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/tablespace"
)

const (
	// CreatingName is the file name while a backup is being written.
	CreatingName = "ib_fc_backup_creating"
	// FileName is the file name of a completed backup.
	FileName = "ib_fc_backup"

	kib        = 1024
	headerSize = kib
	metaEntry  = 16
	batchBytes = 1 << 20
)

var (
	ErrBadHeader = errors.New("backup: bad header")
	ErrTruncated = errors.New("backup: file truncated")
)

// Source is the part of *flashcache.Cache a backup reads from.
type Source interface {
	DirtyBlocks() []flashcache.Block
	ReadBlock(ctx context.Context, b flashcache.Block, buf []byte) (bool, error)
	PageSize(space uint32) (int, bool)
}

var _ Source = (*flashcache.Cache)(nil)

// Entry describes one page in a backup.
type Entry struct {
	Space uint32 `json:"space"`
	Page  uint32 `json:"page"`
	Size  int    `json:"size"`

	offset int64
}

// Result describes a backup that was written.
type Result struct {
	ID       uuid.UUID     `json:"id"`
	Path     string        `json:"path"`
	Pages    int           `json:"pages"`
	Skipped  int           `json:"skipped"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Create writes the dirty pages of src to dir/FileName. Blocks flushed while
// the backup runs are skipped: the tablespace already holds them.
func Create(ctx context.Context, src Source, dir string) (res Result, err error) {
	start := time.Now()
	res.ID = uuid.New()
	res.Path = filepath.Join(dir, FileName)

	ctx, span := telemetry.StartBackupSpan(ctx, "create", telemetry.BackupID(res.ID.String()), telemetry.Path(res.Path))
	defer func() {
		span.SetAttributes(telemetry.Pages(res.Pages))
		telemetry.End(span, err)
	}()

	blocks := src.DirtyBlocks()
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Space != blocks[j].Space {
			return blocks[i].Space < blocks[j].Space
		}
		return blocks[i].Page < blocks[j].Page
	})

	tmp := filepath.Join(dir, CreatingName)
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return res, fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	pos := int64(headerSize)
	var (
		batch   bytes.Buffer
		entries []Entry
	)
	flushBatch := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if _, err := f.WriteAt(batch.Bytes(), pos); err != nil {
			return fmt.Errorf("write pages: %w", err)
		}
		pos += int64(batch.Len())
		batch.Reset()
		return nil
	}

	for _, b := range blocks {
		size, ok := src.PageSize(b.Space)
		if !ok {
			res.Skipped++
			continue
		}
		buf := make([]byte, size)
		ok, err := src.ReadBlock(ctx, b, buf)
		if err != nil {
			return res, fmt.Errorf("read %d:%d: %w", b.Space, b.Page, err)
		}
		if !ok {
			res.Skipped++
			continue
		}
		batch.Write(buf)
		entries = append(entries, Entry{Space: b.Space, Page: b.Page, Size: size})
		if batch.Len() >= batchBytes {
			if err := flushBatch(); err != nil {
				return res, err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return res, err
	}

	metaPos := pos
	meta := make([]byte, roundKiB(len(entries)*metaEntry))
	for i, e := range entries {
		m := meta[i*metaEntry:]
		binary.BigEndian.PutUint32(m[0:], e.Space)
		binary.BigEndian.PutUint32(m[4:], e.Page)
		binary.BigEndian.PutUint64(m[8:], uint64(e.Size/kib))
	}
	if _, err := f.WriteAt(meta, metaPos); err != nil {
		return res, fmt.Errorf("write metadata: %w", err)
	}

	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint64(hdr[0:], headerSize/kib)
	binary.BigEndian.PutUint64(hdr[8:], uint64(metaPos/kib))
	binary.BigEndian.PutUint64(hdr[16:], uint64(len(entries)))
	copy(hdr[24:40], res.ID[:])
	if _, err := f.WriteAt(hdr, 0); err != nil {
		return res, fmt.Errorf("write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return res, fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return res, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := atomic.ReplaceFile(tmp, res.Path); err != nil {
		return res, fmt.Errorf("rename backup: %w", err)
	}

	res.Pages = len(entries)
	res.Bytes = metaPos + int64(len(meta))
	res.Duration = time.Since(start)
	logger.InfoCtx(ctx, "Flash cache backup created",
		logger.Path(res.Path),
		logger.Count(res.Pages),
		"skipped", res.Skipped,
		"id", res.ID.String(),
		logger.DurationMs(float64(res.Duration.Microseconds())/1000))
	return res, nil
}

func roundKiB(n int) int {
	return (n + kib - 1) / kib * kib
}

// File is an opened backup.
type File struct {
	ID      uuid.UUID
	Entries []Entry

	f *os.File
}

// Open reads the header and metadata of a backup file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	bf, err := load(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bf, nil
}

func load(f *os.File) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, headerSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	pagePos := int64(binary.BigEndian.Uint64(hdr[0:])) * kib
	metaPos := int64(binary.BigEndian.Uint64(hdr[8:])) * kib
	count := binary.BigEndian.Uint64(hdr[16:])
	if pagePos != headerSize || metaPos < pagePos {
		return nil, fmt.Errorf("%w: pages at %d, metadata at %d", ErrBadHeader, pagePos, metaPos)
	}
	if metaPos+int64(count)*metaEntry > info.Size() {
		return nil, fmt.Errorf("%w: %d entries at %d, file is %d bytes", ErrTruncated, count, metaPos, info.Size())
	}

	bf := &File{f: f}
	copy(bf.ID[:], hdr[24:40])
	r := bufio.NewReader(io.NewSectionReader(f, metaPos, int64(count)*metaEntry))
	off := pagePos
	m := make([]byte, metaEntry)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, m); err != nil {
			return nil, fmt.Errorf("%w: metadata entry %d: %w", ErrTruncated, i, err)
		}
		e := Entry{
			Space:  binary.BigEndian.Uint32(m[0:]),
			Page:   binary.BigEndian.Uint32(m[4:]),
			Size:   int(binary.BigEndian.Uint64(m[8:])) * kib,
			offset: off,
		}
		off += int64(e.Size)
		bf.Entries = append(bf.Entries, e)
	}
	if off > metaPos {
		return nil, fmt.Errorf("%w: pages overrun metadata", ErrBadHeader)
	}
	return bf, nil
}

// ReadPage reads entry i into a new buffer.
func (bf *File) ReadPage(i int) ([]byte, error) {
	e := bf.Entries[i]
	buf := make([]byte, e.Size)
	if _, err := bf.f.ReadAt(buf, e.offset); err != nil {
		return nil, fmt.Errorf("read %d:%d: %w", e.Space, e.Page, err)
	}
	return buf, nil
}

// Restore writes every page to store and syncs it. Pages of spaces that no
// longer exist are skipped. It returns the number of pages written.
func (bf *File) Restore(ctx context.Context, store tablespace.Store) (n int, err error) {
	ctx, span := telemetry.StartBackupSpan(ctx, "restore", telemetry.BackupID(bf.ID.String()))
	defer func() {
		span.SetAttributes(telemetry.Pages(n))
		telemetry.End(span, err)
	}()

	for i, e := range bf.Entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		size, ok := store.PageSize(e.Space)
		if !ok {
			logger.DebugCtx(ctx, "Skipping page of dropped space", logger.Space(e.Space), logger.Page(e.Page))
			continue
		}
		if size != e.Size {
			return n, fmt.Errorf("%d:%d: backup page of %d bytes, space uses %d", e.Space, e.Page, e.Size, size)
		}
		buf, err := bf.ReadPage(i)
		if err != nil {
			return n, err
		}
		if err := store.WritePage(ctx, e.Space, e.Page, buf); err != nil {
			return n, err
		}
		n++
	}
	if err := store.Sync(ctx); err != nil {
		return n, err
	}
	logger.InfoCtx(ctx, "Flash cache backup restored", "id", bf.ID.String(), logger.Count(n))
	return n, nil
}

// Close closes the backup file.
func (bf *File) Close() error {
	return bf.f.Close()
}
