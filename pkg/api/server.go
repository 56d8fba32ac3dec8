package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/flashcache/pkg/api/handlers"
	"github.com/marmos91/flashcache/pkg/server"
)

// NewServer creates a stopped API server for cache. Backups land in
// backupDir. The write timeout leaves a minute past BackupTimeout so a
// timed-out backup still gets its error response out.
func NewServer(cfg APIConfig, cache handlers.Cache, backupDir string) *server.HTTPServer {
	cfg.ApplyDefaults()
	return server.NewHTTPServer("api", &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, cache, backupDir),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.BackupTimeout + time.Minute,
		IdleTimeout:  cfg.IdleTimeout,
	})
}
