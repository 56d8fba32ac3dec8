package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marmos91/flashcache/pkg/flashcache"
)

type fakeCache struct {
	status  flashcache.Status
	dumpErr error
	dumps   int
	enabled bool
}

func (f *fakeCache) DirtyBlocks() []flashcache.Block { return nil }

func (f *fakeCache) ReadBlock(context.Context, flashcache.Block, []byte) (bool, error) {
	return false, nil
}

func (f *fakeCache) PageSize(uint32) (int, bool) { return 4096, true }

func (f *fakeCache) Status() flashcache.Status { return f.status }

func (f *fakeCache) Dump(context.Context) error {
	f.dumps++
	return f.dumpErr
}

func (f *fakeCache) WriteEnabled() bool { return f.enabled }

func (f *fakeCache) SetWriteEnabled(enabled bool) error {
	f.enabled = enabled
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode(t, w)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "flashcache" {
		t.Errorf("Expected service 'flashcache', got '%s'", data["service"])
	}
}

func TestReadiness(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil).Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if resp := decode(t, w); resp.Error != "cache not open" {
		t.Errorf("Expected error 'cache not open', got '%s'", resp.Error)
	}

	fc := &fakeCache{status: flashcache.Status{WriteModeName: "write_back", EnableWrite: true}}
	w = httptest.NewRecorder()
	NewHealthHandler(fc).Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	data := decode(t, w).Data.(map[string]interface{})
	if data["write_mode"] != "write_back" {
		t.Errorf("Expected write_mode 'write_back', got '%v'", data["write_mode"])
	}
}

func TestStatus(t *testing.T) {
	fc := &fakeCache{status: flashcache.Status{Capacity: 64, Dirty: 3}}
	w := httptest.NewRecorder()

	NewCacheHandler(fc, "").Status(w, httptest.NewRequest("GET", "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	data := decode(t, w).Data.(map[string]interface{})
	if data["capacity_slots"] != float64(64) {
		t.Errorf("Expected capacity_slots 64, got %v", data["capacity_slots"])
	}
	if data["dirty_slots"] != float64(3) {
		t.Errorf("Expected dirty_slots 3, got %v", data["dirty_slots"])
	}
}

func TestDump(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"closed", flashcache.ErrClosed, http.StatusServiceUnavailable},
		{"no path", flashcache.ErrInvalidConfig, http.StatusConflict},
		{"io", errors.New("disk gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCache{dumpErr: tt.err}
			w := httptest.NewRecorder()
			NewCacheHandler(fc, "").Dump(w, httptest.NewRequest("POST", "/dump", nil))
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, w.Code)
			}
			if fc.dumps != 1 {
				t.Errorf("Expected 1 dump, got %d", fc.dumps)
			}
		})
	}
}

func TestBackup(t *testing.T) {
	w := httptest.NewRecorder()
	NewCacheHandler(&fakeCache{}, "").Backup(w, httptest.NewRequest("POST", "/backup", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status %d without backup dir, got %d", http.StatusConflict, w.Code)
	}

	w = httptest.NewRecorder()
	NewCacheHandler(&fakeCache{}, t.TempDir()).Backup(w, httptest.NewRequest("POST", "/backup", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	data := decode(t, w).Data.(map[string]interface{})
	if data["pages"] != float64(0) {
		t.Errorf("Expected 0 pages, got %v", data["pages"])
	}
}

func TestSetWriteEnabled(t *testing.T) {
	fc := &fakeCache{enabled: true}
	h := NewCacheHandler(fc, "")

	w := httptest.NewRecorder()
	h.SetWriteEnabled(w, httptest.NewRequest("PUT", "/write-enabled", strings.NewReader(`{"enabled":false}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if fc.enabled {
		t.Error("Expected writes disabled")
	}

	for _, body := range []string{`{}`, `not json`} {
		w = httptest.NewRecorder()
		h.SetWriteEnabled(w, httptest.NewRequest("PUT", "/write-enabled", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status %d, got %d", body, http.StatusBadRequest, w.Code)
		}
	}
}
