package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/pkg/device"
	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/tablespace/memory"
)

func openCache(t *testing.T) *flashcache.Cache {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Create(1, 4096))

	dir := t.TempDir()
	cfg := flashcache.DefaultConfig()
	cfg.Device = device.NewMemory(64 << 10)
	cfg.Store = store
	cfg.LogPath = filepath.Join(dir, "ib_flash_cache.log")
	cfg.DumpPath = filepath.Join(dir, "ib_flash_cache.dump")
	cfg.SlotSize = 1 << 10
	cfg.PageSize = 4096
	cfg.ReservePages = 0
	cfg.Compress = false

	c, err := flashcache.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestRouter(t *testing.T) {
	c := openCache(t)
	r := NewRouter(APIConfig{}, c, t.TempDir())

	assert.Equal(t, http.StatusOK, serve(r, "GET", "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/health/ready", "").Code)

	w := serve(r, "GET", "/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"capacity_slots":64`)

	assert.Equal(t, http.StatusOK, serve(r, "POST", "/dump", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, "POST", "/backup", "").Code)

	w = serve(r, "PUT", "/write-enabled", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, c.WriteEnabled())

	assert.Equal(t, http.StatusMethodNotAllowed, serve(r, "GET", "/dump", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, "GET", "/nope", "").Code)
	assert.Equal(t, http.StatusTemporaryRedirect, serve(r, "GET", "/", "").Code)
}

func TestRouter_NoCache(t *testing.T) {
	r := NewRouter(APIConfig{}, nil, "")

	assert.Equal(t, http.StatusOK, serve(r, "GET", "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, "GET", "/health/ready", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, "GET", "/status", "").Code)
}

func TestAPIConfig_Defaults(t *testing.T) {
	var c APIConfig
	assert.True(t, c.IsEnabled())
	c.ApplyDefaults()
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, 30*time.Second, c.RequestTimeout)
	assert.Equal(t, 10*time.Minute, c.BackupTimeout)

	off := false
	c.Enabled = &off
	assert.False(t, c.IsEnabled())
}

func TestNewServer(t *testing.T) {
	srv := NewServer(APIConfig{Port: 9191}, nil, "")
	assert.Equal(t, ":9191", srv.Addr())
}
