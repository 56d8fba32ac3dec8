// Package server runs a flash cache as a long-lived process: the background
// flusher, the operator API, the metrics endpoint and configuration reloads,
// with an ordered graceful shutdown.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/flashcache/internal/logger"
)

// DefaultShutdownTimeout bounds the final flush when none is configured.
const DefaultShutdownTimeout = 2 * time.Minute

// AuxiliaryServer is an HTTP server run next to the cache (API, metrics).
type AuxiliaryServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Addr() string
}

// Background is the flusher.
type Background interface {
	Start(ctx context.Context)
	Stop(timeout time.Duration)
}

// Cache is closed last, after every producer has stopped.
type Cache interface {
	Close(ctx context.Context) error
}

// WatchFunc blocks applying configuration changes until ctx is done.
type WatchFunc func(ctx context.Context) error

// Service orchestrates startup and graceful shutdown.
type Service struct {
	shutdownTimeout time.Duration
	servers         []namedServer
	watch           WatchFunc

	serveOnce sync.Once
	served    bool
}

type namedServer struct {
	name string
	srv  AuxiliaryServer
}

// New creates a service. A zero timeout uses DefaultShutdownTimeout.
func New(shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{shutdownTimeout: shutdownTimeout}
}

// AddServer registers an auxiliary server. Must be called before Serve.
func (s *Service) AddServer(name string, srv AuxiliaryServer) {
	if s.served {
		panic("cannot add a server after Serve() has been called")
	}
	s.servers = append(s.servers, namedServer{name: name, srv: srv})
}

// SetWatch registers the configuration watcher. Must be called before Serve.
func (s *Service) SetWatch(fn WatchFunc) {
	if s.served {
		panic("cannot set the watcher after Serve() has been called")
	}
	s.watch = fn
}

// Serve starts bg and the registered servers, blocks until ctx is done or a
// server fails, then shuts everything down and closes cache. It runs once;
// later calls return nil.
func (s *Service) Serve(ctx context.Context, cache Cache, bg Background) error {
	var err error
	s.serveOnce.Do(func() {
		s.served = true
		err = s.serve(ctx, cache, bg)
	})
	return err
}

func (s *Service) serve(ctx context.Context, cache Cache, bg Background) error {
	logger.Info("Starting flashcache service")

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if bg != nil {
		bg.Start(runCtx)
	}

	var watchWg sync.WaitGroup
	if s.watch != nil {
		watchWg.Add(1)
		go func() {
			defer watchWg.Done()
			if err := s.watch(runCtx); err != nil {
				logger.Warn("Config watcher stopped", logger.Err(err))
			}
		}()
	}

	errChan := make(chan error, len(s.servers))
	for _, ns := range s.servers {
		go func(ns namedServer) {
			if err := ns.srv.Start(runCtx); err != nil {
				logger.Error("Server error", "server", ns.name, logger.Err(err))
				errChan <- fmt.Errorf("%s server error: %w", ns.name, err)
			}
		}(ns)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", logger.Reason(fmt.Sprint(ctx.Err())))
	case err := <-errChan:
		logger.Error("Server failed - initiating shutdown", logger.Err(err))
		shutdownErr = err
	}

	if err := s.shutdown(stopRun, &watchWg, cache, bg); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	logger.Info("Flashcache service stopped")
	return shutdownErr
}

// shutdown stops the servers so no request reaches a closing cache, then
// the flusher, then closes the cache, which flushes dirty blocks and writes
// the dump.
func (s *Service) shutdown(stopRun context.CancelFunc, watchWg *sync.WaitGroup, cache Cache, bg Background) error {
	for _, ns := range s.servers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ns.srv.Stop(ctx); err != nil {
			logger.Warn("Server shutdown error", "server", ns.name, logger.Err(err))
		}
		cancel()
	}

	stopRun()
	watchWg.Wait()

	if bg != nil {
		logger.Debug("Stopping background flusher")
		bg.Stop(s.shutdownTimeout)
	}

	if cache == nil {
		return nil
	}
	logger.Info("Closing cache", "timeout", s.shutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := cache.Close(ctx); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
