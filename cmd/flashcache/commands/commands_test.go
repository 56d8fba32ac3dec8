package commands

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/pkg/backup"
	"github.com/marmos91/flashcache/pkg/config"
	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/tablespace/fs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cmdutil.Flags.Output = "table"
		cmdutil.Flags.ServerURL = ""
		cfgFile = ""
	})

	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion_JSON(t *testing.T) {
	out, err := execute(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "dev"`)
	assert.Contains(t, out, `"commit": "none"`)
}

func TestConfigValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.InitConfigToPath(path, false))

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration file: "+path)
}

func TestDumpShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ib_flash_cache.dump")
	require.NoError(t, os.WriteFile(path, []byte("1,7,0,1,4,0\n1,8,4,3,4,0\n"), 0644))

	out, err := execute(t, "dump", "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pending_flush")
	assert.Contains(t, out, "2 blocks, 1 pending_flush, 1 flushed")

	_, err = execute(t, "dump", "show", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

type dirtySource struct{}

func (dirtySource) DirtyBlocks() []flashcache.Block {
	return []flashcache.Block{{Space: 1, Page: 3}}
}

func (dirtySource) ReadBlock(_ context.Context, _ flashcache.Block, buf []byte) (bool, error) {
	for i := range buf {
		buf[i] = 0xAB
	}
	return true, nil
}

func (dirtySource) PageSize(uint32) (int, bool) { return 4096, true }

func TestBackupShowAndRestore(t *testing.T) {
	dir := t.TempDir()
	res, err := backup.Create(context.Background(), dirtySource{}, dir)
	require.NoError(t, err)
	require.Equal(t, 1, res.Pages)

	out, err := execute(t, "backup", "show", res.Path, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"space": 1`)
	assert.Contains(t, out, `"page": 3`)

	tsDir := filepath.Join(dir, "data")
	store, err := fs.NewWithPath(tsDir)
	require.NoError(t, err)
	require.NoError(t, store.Create(1, 4096))
	require.NoError(t, store.Close())

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
tablespace:
  path: "`+filepath.ToSlash(tsDir)+`"
cache:
  device_path: "`+filepath.ToSlash(dir)+`/cache.dev"
  size: 4Mi
`), 0644))

	out, err = execute(t, "backup", "restore", res.Path, "--config", cfgPath, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 1 of 1 pages")

	store, err = fs.NewWithPath(tsDir)
	require.NoError(t, err)
	defer store.Close()
	buf := make([]byte, 4096)
	require.NoError(t, store.ReadPage(context.Background(), 1, 3, buf))
	assert.Equal(t, byte(0xAB), buf[4095])
}

func TestWriteDisable_Persist(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok","data":{"enabled":false}}`)
	}))
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.InitConfigToPath(cfgPath, false))

	out, err := execute(t, "write", "disable", "--persist", "--server", srv.URL, "--config", cfgPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":false}`, body)
	assert.Contains(t, out, "Cache writes disabled")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, cfg.Cache.EnableWrite)
	assert.False(t, *cfg.Cache.EnableWrite)
}
