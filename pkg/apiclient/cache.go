package apiclient

import (
	"github.com/marmos91/flashcache/pkg/backup"
	"github.com/marmos91/flashcache/pkg/flashcache"
)

// Health is the data of GET /health/ready.
type Health struct {
	WriteMode   string `json:"write_mode"`
	EnableWrite bool   `json:"enable_write"`
	Source      string `json:"source"`
}

// Ready returns the readiness data. It fails with a 503 APIError while the
// cache is not open.
func (c *Client) Ready() (*Health, error) {
	var h Health
	if err := c.get("/health/ready", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Status returns the cache status.
func (c *Client) Status() (*flashcache.Status, error) {
	var st flashcache.Status
	if err := c.get("/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Dump asks the server to write its dump file.
func (c *Client) Dump() error {
	return c.post("/dump", nil, nil)
}

// Backup asks the server to back up its dirty pages.
func (c *Client) Backup() (*backup.Result, error) {
	var res backup.Result
	if err := c.post("/backup", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetWriteEnabled toggles cache writes and returns the resulting state.
func (c *Client) SetWriteEnabled(enabled bool) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.put("/write-enabled", map[string]bool{"enabled": enabled}, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}
