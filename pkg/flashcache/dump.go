package flashcache

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/internal/telemetry"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
)

// DumpEntry is one line of the dump file.
type DumpEntry struct {
	Space          uint32
	Page           uint32
	Offset         uint32
	State          State
	OrigSlots      uint32
	CompressedSize uint32
}

// Dump writes the block metadata snapshot and records its cursors in the log.
func (c *Cache) Dump(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.cfg.DumpPath == "" {
		return fmt.Errorf("%w: no dump path", ErrInvalidConfig)
	}
	return c.dump(ctx)
}

func (c *Cache) dump(ctx context.Context) (err error) {
	ctx, span := telemetry.StartCacheSpan(ctx, "dump", telemetry.Path(c.cfg.DumpPath))
	defer func() { telemetry.End(span, err) }()

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	// Cursors and blocks are taken together, once no batch is in flight, so
	// the dump cursors bound exactly the blocks listed and cover only synced
	// writes.
	c.mu.Lock()
	c.commitGateLocked(true)
	snap := c.snapshotLocked()
	blocks := c.Blocks()
	c.mu.Unlock()

	var buf bytes.Buffer
	n := 0
	for _, b := range blocks {
		if b.Fence.Has(DoubleWriteInFlight) {
			continue
		}
		n++
		fmt.Fprintf(&buf, "%d,%d,%d,%d,%d,%d\n",
			b.Space, b.Page, b.Offset, uint8(b.State), b.OrigSlots, b.CompressedSize)
	}
	if err := atomic.WriteFile(c.cfg.DumpPath, &buf); err != nil {
		return fmt.Errorf("write dump %s: %w", c.cfg.DumpPath, err)
	}

	if err := c.log.Update(false, fclog.UpdateDump, snap); err != nil {
		return err
	}
	if err := c.log.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}
	c.stats.commits.Add(1)
	logger.DebugCtx(ctx, "Flash cache dump written",
		logger.Path(c.cfg.DumpPath), logger.Count(n), logger.Offset(snap.Write.Offset))
	return nil
}

// ReadDump parses a dump file.
func ReadDump(path string) ([]DumpEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseDump(data)
}

func parseDump(data []byte) ([]DumpEntry, error) {
	var out []DumpEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != 6 {
			return nil, fmt.Errorf("dump line %d: %d fields", line, len(fields))
		}
		var v [6]uint32
		for i, f := range fields {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("dump line %d: %w", line, err)
			}
			v[i] = uint32(n)
		}
		st := State(v[3])
		if st == Free || st > Flushed {
			return nil, fmt.Errorf("dump line %d: bad state %d", line, v[3])
		}
		out = append(out, DumpEntry{
			Space:          v[0],
			Page:           v[1],
			Offset:         v[2],
			State:          st,
			OrigSlots:      v[4],
			CompressedSize: v[5],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// dumpFresh reports whether the dump still describes the ring. After an
// unclean shutdown a dump is unusable once the writer has gone a full round
// past it.
func (c *Cache) dumpFresh(rec fclog.Record) bool {
	if rec.BeenShutdown || !c.cfg.EnableDump {
		return true
	}
	return !(rec.Write.Round >= rec.DumpWrite.Round+1 && rec.Write.Offset >= rec.DumpWrite.Offset)
}

// loadDump rebuilds the registry from the dump file. It reports false when
// the caller must scan instead.
func (c *Cache) loadDump(ctx context.Context, rec fclog.Record) (loaded bool, stats RecoveryStats, err error) {
	data, err := os.ReadFile(c.cfg.DumpPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, stats, nil
	}
	if err != nil {
		logger.Warn("Cannot read flash cache dump, scanning instead", logger.Path(c.cfg.DumpPath), logger.Err(err))
		return false, stats, nil
	}
	if !c.dumpFresh(rec) {
		logger.Info("Flash cache dump is stale, scanning instead", logger.Path(c.cfg.DumpPath),
			logger.Round(rec.DumpWrite.Round), logger.Offset(rec.DumpWrite.Offset))
		return false, stats, nil
	}

	ctx, span := telemetry.StartCacheSpan(ctx, "load_dump", telemetry.Path(c.cfg.DumpPath))
	defer func() { telemetry.End(span, err) }()

	entries, err := parseDump(data)
	if err != nil {
		logger.WarnCtx(ctx, "Cannot parse flash cache dump, scanning instead", logger.Path(c.cfg.DumpPath), logger.Err(err))
		return false, stats, nil
	}

	stats.Source = SourceDump
	// Slots written after the dump are scanned again after an unclean
	// shutdown; dump entries touching them are discarded.
	var catchUp uint32
	if !rec.BeenShutdown {
		if d := distance(rec.Write, rec.DumpWrite, c.capacity); d > 0 && d <= int64(c.capacity) {
			catchUp = uint32(d)
		}
	}
	inCatchUp := func(off uint32) bool {
		return (off+c.capacity-rec.DumpWrite.Offset)%c.capacity < catchUp
	}

	if err := c.applyDump(entries, rec, inCatchUp); err != nil {
		logger.WarnCtx(ctx, "Flash cache dump inconsistent, scanning instead", logger.Path(c.cfg.DumpPath), logger.Err(err))
		c.resetRegistry()
		return false, RecoveryStats{}, nil
	}

	if catchUp > 0 {
		state := PendingFlush
		if c.writeMode == fclog.WriteThrough {
			state = ReadCache
		}
		err = c.scanRing(ctx, rec.DumpWrite.Offset, catchUp, func(off uint32, raw []byte) uint32 {
			b, lsn, step, dropped := c.classify(off, raw, rec.Legacy())
			switch {
			case b != nil:
				b.State = state
				c.adopt(b, lsn, &stats)
			case dropped:
				stats.SkippedRegions++
			}
			return step
		})
		if err != nil {
			return false, stats, err
		}
	}
	if !rec.BeenShutdown && c.writeMode == fclog.WriteBack {
		if err := c.recoverTail(ctx, rec, distance(rec.Write, rec.Flush, c.capacity), &stats); err != nil {
			return false, stats, err
		}
	}
	if c.needsStalePass(rec) {
		if err := c.removeStale(ctx, &stats); err != nil {
			return false, stats, err
		}
	}

	if !c.cfg.EnableDump {
		if err := os.Remove(c.cfg.DumpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Cannot remove flash cache dump", logger.Path(c.cfg.DumpPath), logger.Err(err))
		}
	}
	return true, stats, nil
}

// applyDump registers the dump entries. Entries of dropped spaces and those
// in the catch-up region are skipped.
func (c *Cache) applyDump(entries []DumpEntry, rec fclog.Record, inCatchUp func(uint32) bool) error {
	legacy := rec.Legacy()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		size, ok := c.store.PageSize(e.Space)
		if !ok {
			continue
		}
		if c.slotsFor(size) != e.OrigSlots {
			return fmt.Errorf("block %d:%d: %d slots for page size %d", e.Space, e.Page, e.OrigSlots, size)
		}
		slots := e.OrigSlots
		if e.CompressedSize > 0 {
			if legacy {
				slots = e.CompressedSize
			} else {
				slots = uint32(c.alignPacked(int(e.CompressedSize)) / c.slotSize)
			}
		}
		if slots == 0 || slots > e.OrigSlots {
			return fmt.Errorf("block %d:%d: bad compressed size %d", e.Space, e.Page, e.CompressedSize)
		}
		if inCatchUp(e.Offset) || inCatchUp((e.Offset+slots-1)%c.capacity) {
			continue
		}

		st := e.State
		switch {
		case c.writeMode == fclog.WriteThrough:
			st = ReadCache
		case st == PendingFlush && !c.inDirtyRegion(e.Offset, rec):
			st = Flushed
		}
		b := &Block{
			Space:          e.Space,
			Page:           e.Page,
			Offset:         e.Offset,
			Slots:          slots,
			CompressedSize: e.CompressedSize,
			OrigSlots:      e.OrigSlots,
			Legacy:         legacy,
			State:          st,
		}
		if err := c.linkLocked(b); err != nil {
			return err
		}
	}
	return nil
}

// inDirtyRegion reports whether off lies in [flush, write) of rec.
func (c *Cache) inDirtyRegion(off uint32, rec fclog.Record) bool {
	d := distance(rec.Write, rec.Flush, c.capacity)
	if d <= 0 {
		return false
	}
	return int64((off+c.capacity-rec.Flush.Offset)%c.capacity) < d
}

// resetRegistry discards every registered block.
func (c *Cache) resetRegistry() {
	c.mu.Lock()
	c.reg = newRegistry(c.capacity)
	c.used, c.usedUncompressed, c.dirty = 0, 0, 0
	c.mu.Unlock()
}
