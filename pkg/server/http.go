package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/flashcache/internal/logger"
)

// stopGrace bounds the shutdown Start performs when its context ends.
const stopGrace = 5 * time.Second

// HTTPServer adapts an *http.Server to AuxiliaryServer.
type HTTPServer struct {
	name     string
	server   *http.Server
	stopOnce sync.Once
	stopErr  error

	mu       sync.Mutex
	listener net.Listener
}

var _ AuxiliaryServer = (*HTTPServer)(nil)

// NewHTTPServer wraps srv. name only appears in logs and errors.
func NewHTTPServer(name string, srv *http.Server) *HTTPServer {
	return &HTTPServer{name: name, server: srv}
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// triggers a graceful shutdown and Start returns its result.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("%s server failed: %w", s.name, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "server", s.name, "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx is already done; shutting down under it would abort at once.
		stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-errc:
		return fmt.Errorf("%s server failed: %w", s.name, err)
	}
}

// Stop gracefully shuts the server down. Later calls return the first
// result.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("%s server shutdown: %w", s.name, err)
			logger.Error("HTTP server shutdown error", "server", s.name, logger.Err(err))
			return
		}
		logger.Info("HTTP server stopped", "server", s.name)
	})
	return s.stopErr
}

// Addr returns the bound address once listening, the configured one before.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}
