package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/backup"
	"github.com/marmos91/flashcache/pkg/flashcache"
)

// Cache is the part of *flashcache.Cache the API drives.
type Cache interface {
	backup.Source
	Status() flashcache.Status
	Dump(ctx context.Context) error
	WriteEnabled() bool
	SetWriteEnabled(enabled bool) error
}

var _ Cache = (*flashcache.Cache)(nil)

// CacheHandler serves status and the operator actions on a cache.
type CacheHandler struct {
	cache     Cache
	backupDir string

	// backupMu rejects a backup while another one runs.
	backupMu sync.Mutex
}

// NewCacheHandler creates a cache handler. Backups are written to backupDir;
// an empty backupDir disables POST /backup.
func NewCacheHandler(cache Cache, backupDir string) *CacheHandler {
	return &CacheHandler{cache: cache, backupDir: backupDir}
}

// Status handles GET /status.
func (h *CacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.cache.Status())
}

// Dump handles POST /dump.
func (h *CacheHandler) Dump(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Dump(r.Context()); err != nil {
		logger.Warn("API dump failed", logger.Err(err))
		writeCacheError(w, err)
		return
	}
	writeOK(w, nil)
}

// Backup handles POST /backup. It returns 409 Conflict while another backup
// is running.
func (h *CacheHandler) Backup(w http.ResponseWriter, r *http.Request) {
	if h.backupDir == "" {
		Conflict(w, "backup_dir is not configured")
		return
	}
	if !h.backupMu.TryLock() {
		Conflict(w, "A backup is already running")
		return
	}
	defer h.backupMu.Unlock()

	res, err := backup.Create(r.Context(), h.cache, h.backupDir)
	if err != nil {
		logger.Error("API backup failed", logger.Err(err))
		writeCacheError(w, err)
		return
	}
	writeOK(w, res)
}

// WriteEnabledRequest is the body of PUT /write-enabled.
type WriteEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetWriteEnabled handles PUT /write-enabled.
func (h *CacheHandler) SetWriteEnabled(w http.ResponseWriter, r *http.Request) {
	var req WriteEnabledRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		BadRequest(w, "enabled is required")
		return
	}
	if err := h.cache.SetWriteEnabled(*req.Enabled); err != nil {
		writeCacheError(w, err)
		return
	}
	writeOK(w, map[string]bool{"enabled": h.cache.WriteEnabled()})
}
