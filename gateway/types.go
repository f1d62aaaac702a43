package gateway

import (
	"time"

	"github.com/c360/ntscope/errors"
)

// Config holds the HTTP surface settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// EnableCORS adds CORS headers for the listed origins.
	EnableCORS  bool     `json:"enable_cors" yaml:"enable_cors" toml:"enable_cors"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`

	// MaxRangeSamples caps the entries returned by one range query.
	MaxRangeSamples int `json:"max_range_samples" yaml:"max_range_samples" toml:"max_range_samples"`

	// MaxUploadSize limits uploaded log files in bytes.
	MaxUploadSize int64 `json:"max_upload_size" yaml:"max_upload_size" toml:"max_upload_size"`

	// StreamBuffer is the per-client queue of pending change events.
	StreamBuffer int `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer"`

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxRangeSamples: 100_000,
		MaxUploadSize:   512 << 20,
		StreamBuffer:    1024,
		WriteTimeout:    10 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.MaxRangeSamples == 0 {
		c.MaxRangeSamples = d.MaxRangeSamples
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = d.MaxUploadSize
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = d.StreamBuffer
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.MaxRangeSamples < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_range_samples cannot be negative")
	}
	if c.MaxUploadSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_upload_size cannot be negative")
	}
	if c.StreamBuffer < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream_buffer cannot be negative")
	}
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins")
	}
	return nil
}
