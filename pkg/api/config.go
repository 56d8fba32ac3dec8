package api

import "time"

// APIConfig configures the operator HTTP server.
type APIConfig struct {
	// Enabled controls whether the API server is started. A nil pointer
	// means the default, true.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port. Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds the status, dump and write-enabled endpoints.
	// A dump lists every cached block, so it is the slowest of them.
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// BackupTimeout bounds POST /backup, which copies every dirty page
	// inside the request. The server write timeout follows it.
	// Default: 10m
	BackupTimeout time.Duration `mapstructure:"backup_timeout" yaml:"backup_timeout"`
}

func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyDefaults fills in zero values.
func (c *APIConfig) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.BackupTimeout == 0 {
		c.BackupTimeout = 10 * time.Minute
	}
}
