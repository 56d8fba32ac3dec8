// Package api serves the operator HTTP API of a running cache. Every
// response uses the envelope {status, timestamp, data, error}.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/api/handlers"
	"github.com/marmos91/flashcache/pkg/metrics"
)

// NewRouter builds the routes:
//
//	GET  /health              liveness
//	GET  /health/ready        readiness, 503 until the cache is open
//	GET  /metrics             Prometheus exposition, 404 when disabled
//	GET  /status              cache status
//	POST /dump                write the dump file
//	POST /backup              back up dirty pages to backupDir
//	PUT  /write-enabled       toggle cache writes
//
// cache may be nil; only the health and metrics routes are mounted then.
func NewRouter(cfg APIConfig, cache handlers.Cache, backupDir string) http.Handler {
	cfg.ApplyDefaults()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(cache)
	r.Get("/health", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	if cache != nil {
		ch := handlers.NewCacheHandler(cache, backupDir)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Get("/status", ch.Status)
			r.Post("/dump", ch.Dump)
			r.Put("/write-enabled", ch.SetWriteEnabled)
		})
		r.With(middleware.Timeout(cfg.BackupTimeout)).Post("/backup", ch.Backup)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.NotFound(w, "not found")
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})
	return r
}

// requestLogger logs completed requests: health and metrics probes at DEBUG,
// everything else at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := logger.Info
		if r.Method == http.MethodGet && (r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/health")) {
			log = logger.Debug
		}
		log("API request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(float64(time.Since(start).Microseconds())/1000))
	})
}
