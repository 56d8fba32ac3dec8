// Package flusher runs the background work of an open flash cache: flush
// passes driven by a ticker and by the cache's flush signal, periodic log
// commits and periodic metadata dumps.
package flusher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/flashcache"
)

// Cache is the part of *flashcache.Cache the flusher drives.
type Cache interface {
	Flush(ctx context.Context, force bool) (flashcache.FlushResult, error)
	FlushSignal() <-chan struct{}
	CommitLog() error
	Dump(ctx context.Context) error
}

var _ Cache = (*flashcache.Cache)(nil)

// Config holds the background intervals.
type Config struct {
	// FlushInterval is the period of flush passes when nothing signals.
	// Default: 1s
	FlushInterval time.Duration

	// LogCommitInterval is the period of log commits.
	// Default: 60s
	LogCommitInterval time.Duration

	// DumpInterval is the period of metadata dumps. Zero disables them.
	DumpInterval time.Duration

	// MaxPassesPerWake bounds the flush passes run back to back after one
	// wake-up.
	// Default: 64
	MaxPassesPerWake int
}

// DefaultConfig returns the default intervals, with dumps disabled.
func DefaultConfig() Config {
	return Config{
		FlushInterval:     time.Second,
		LogCommitInterval: 60 * time.Second,
		MaxPassesPerWake:  64,
	}
}

// Stats counts the work done so far.
type Stats struct {
	Passes      int       `json:"passes"`
	Pages       int       `json:"pages"`
	Failures    int       `json:"failures"`
	Commits     int       `json:"commits"`
	Dumps       int       `json:"dumps"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Background runs flush passes, log commits and dumps until stopped.
type Background struct {
	cache Cache
	cfg   Config

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
	stopped   bool

	mu    sync.Mutex
	stats Stats
}

// New creates a flusher for c. Zero fields of cfg take their defaults.
func New(c Cache, cfg Config) *Background {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.LogCommitInterval <= 0 {
		cfg.LogCommitInterval = 60 * time.Second
	}
	if cfg.MaxPassesPerWake <= 0 {
		cfg.MaxPassesPerWake = 64
	}
	return &Background{
		cache:     c,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the background goroutines.
func (b *Background) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	logger.Info("Starting flash cache flusher",
		"flush_interval", b.cfg.FlushInterval,
		"commit_interval", b.cfg.LogCommitInterval,
		"dump_interval", b.cfg.DumpInterval)

	b.wg.Add(2)
	go b.flushLoop(ctx)
	go b.periodicLoop(ctx)

	go func() {
		b.wg.Wait()
		close(b.stoppedCh)
	}()
}

// Stop signals the goroutines to exit and waits up to timeout for them.
// It does not flush: closing the cache does that.
func (b *Background) Stop(timeout time.Duration) {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	select {
	case <-b.stoppedCh:
		logger.Info("Flash cache flusher stopped")
	case <-time.After(timeout):
		logger.Warn("Flash cache flusher stop timed out")
	}
}

// Stats returns a copy of the counters.
func (b *Background) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Background) flushLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.cache.FlushSignal():
		}
		if !b.flushPasses(ctx) {
			return
		}
	}
}

// flushPasses runs passes while they make progress. It reports false when
// the cache is closed.
func (b *Background) flushPasses(ctx context.Context) bool {
	for i := 0; i < b.cfg.MaxPassesPerWake; i++ {
		res, err := b.cache.Flush(ctx, false)
		if errors.Is(err, flashcache.ErrClosed) {
			return false
		}
		if err != nil {
			b.fail("Background flush failed", err)
			return true
		}
		if res.Target == 0 {
			return true
		}
		b.mu.Lock()
		b.stats.Passes++
		b.stats.Pages += res.Pages
		b.mu.Unlock()
		if res.Advanced == 0 {
			return true
		}
	}
	return true
}

func (b *Background) periodicLoop(ctx context.Context) {
	defer b.wg.Done()
	commit := time.NewTicker(b.cfg.LogCommitInterval)
	defer commit.Stop()

	var dumpC <-chan time.Time
	if b.cfg.DumpInterval > 0 {
		dump := time.NewTicker(b.cfg.DumpInterval)
		defer dump.Stop()
		dumpC = dump.C
	}

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-commit.C:
			if err := b.cache.CommitLog(); err != nil {
				if errors.Is(err, flashcache.ErrClosed) {
					return
				}
				b.fail("Periodic log commit failed", err)
				continue
			}
			b.mu.Lock()
			b.stats.Commits++
			b.mu.Unlock()
		case <-dumpC:
			if err := b.cache.Dump(ctx); err != nil {
				if errors.Is(err, flashcache.ErrClosed) {
					return
				}
				b.fail("Periodic dump failed", err)
				continue
			}
			b.mu.Lock()
			b.stats.Dumps++
			b.mu.Unlock()
		}
	}
}

func (b *Background) fail(msg string, err error) {
	b.mu.Lock()
	b.stats.Failures++
	b.stats.LastError = err.Error()
	b.stats.LastErrorAt = time.Now()
	b.mu.Unlock()
	logger.Error(msg, logger.Err(err))
}
