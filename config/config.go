package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/gateway"
	"github.com/c360/ntscope/nt4"
	"github.com/c360/ntscope/session"
	"github.com/c360/ntscope/wpilog"
)

// Log formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the complete ntscope configuration.
type Config struct {
	Live    LiveConfig    `json:"live" yaml:"live" toml:"live"`
	Store   StoreConfig   `json:"store" yaml:"store" toml:"store"`
	Import  ImportConfig  `json:"import" yaml:"import" toml:"import"`
	Gateway GatewayConfig `json:"gateway" yaml:"gateway" toml:"gateway"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
}

// LiveConfig describes the NT4 server to connect to.
type LiveConfig struct {
	// Connect starts a live session at startup
	Connect          bool     `json:"connect" yaml:"connect" toml:"connect"`
	Host             string   `json:"host" yaml:"host" toml:"host"`
	Port             int      `json:"port" yaml:"port" toml:"port"`
	AppName          string   `json:"app_name" yaml:"app_name" toml:"app_name"`
	ReconnectDelay   Duration `json:"reconnect_delay" yaml:"reconnect_delay" toml:"reconnect_delay"`
	TimeSyncInterval Duration `json:"time_sync_interval" yaml:"time_sync_interval" toml:"time_sync_interval"`
	HandshakeTimeout Duration `json:"handshake_timeout" yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout     Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	QueueSize        int      `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
}

// StoreConfig selects the field trees each source maintains.
type StoreConfig struct {
	Nested      bool     `json:"nested" yaml:"nested" toml:"nested"`
	Flat        bool     `json:"flat" yaml:"flat" toml:"flat"`
	StopTimeout Duration `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
}

// ImportConfig sizes the WPILOG import worker pool.
type ImportConfig struct {
	Workers   int `json:"workers" yaml:"workers" toml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
}

// GatewayConfig configures the HTTP query surface.
type GatewayConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr            string   `json:"addr" yaml:"addr" toml:"addr"`
	EnableCORS      bool     `json:"enable_cors" yaml:"enable_cors" toml:"enable_cors"`
	CORSOrigins     []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`
	MaxRangeSamples int      `json:"max_range_samples" yaml:"max_range_samples" toml:"max_range_samples"`
	MaxUploadSize   int64    `json:"max_upload_size" yaml:"max_upload_size" toml:"max_upload_size"`
	StreamBuffer    int      `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
}

// MetricsConfig configures the standalone Prometheus endpoint. When the
// gateway is enabled it also serves /metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Path    string `json:"path" yaml:"path" toml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	live := nt4.DefaultConfig()
	sess := session.DefaultConfig()
	gw := gateway.DefaultConfig()
	return &Config{
		Live: LiveConfig{
			Host:             live.Host,
			Port:             live.Port,
			AppName:          live.AppName,
			ReconnectDelay:   Duration(live.ReconnectDelay),
			TimeSyncInterval: Duration(live.TimeSyncInterval),
			HandshakeTimeout: Duration(live.HandshakeTimeout),
			WriteTimeout:     Duration(live.WriteTimeout),
			QueueSize:        live.QueueSize,
		},
		Store: StoreConfig{
			Nested:      sess.Nested,
			Flat:        sess.Flat,
			StopTimeout: Duration(sess.StopTimeout),
		},
		Import: ImportConfig{
			Workers:   sess.Import.Workers,
			QueueSize: sess.Import.QueueSize,
		},
		Gateway: GatewayConfig{
			Enabled:         true,
			Addr:            gw.Addr,
			MaxRangeSamples: gw.MaxRangeSamples,
			MaxUploadSize:   gw.MaxUploadSize,
			StreamBuffer:    gw.StreamBuffer,
			WriteTimeout:    Duration(gw.WriteTimeout),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// ApplyDefaults fills zero numeric and string settings from Default.
// Booleans are left alone; Load decodes on top of Default instead.
func (c *Config) ApplyDefaults() {
	d := Default()
	setDefault(&c.Live.Host, d.Live.Host)
	setDefault(&c.Live.Port, d.Live.Port)
	setDefault(&c.Live.AppName, d.Live.AppName)
	setDefault(&c.Live.ReconnectDelay, d.Live.ReconnectDelay)
	setDefault(&c.Live.TimeSyncInterval, d.Live.TimeSyncInterval)
	setDefault(&c.Live.HandshakeTimeout, d.Live.HandshakeTimeout)
	setDefault(&c.Live.WriteTimeout, d.Live.WriteTimeout)
	setDefault(&c.Live.QueueSize, d.Live.QueueSize)
	setDefault(&c.Store.StopTimeout, d.Store.StopTimeout)
	setDefault(&c.Import.Workers, d.Import.Workers)
	setDefault(&c.Import.QueueSize, d.Import.QueueSize)
	setDefault(&c.Gateway.Addr, d.Gateway.Addr)
	setDefault(&c.Gateway.MaxRangeSamples, d.Gateway.MaxRangeSamples)
	setDefault(&c.Gateway.MaxUploadSize, d.Gateway.MaxUploadSize)
	setDefault(&c.Gateway.StreamBuffer, d.Gateway.StreamBuffer)
	setDefault(&c.Gateway.WriteTimeout, d.Gateway.WriteTimeout)
	setDefault(&c.Metrics.Addr, d.Metrics.Addr)
	setDefault(&c.Metrics.Path, d.Metrics.Path)
	setDefault(&c.Log.Level, d.Log.Level)
	setDefault(&c.Log.Format, d.Log.Format)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks every section, reporting the first problem found.
func (c *Config) Validate() error {
	if !c.Store.Nested && !c.Store.Flat {
		return invalid("store: at least one of nested or flat must be enabled")
	}
	if c.Import.Workers < 0 || c.Import.QueueSize < 0 {
		return invalid("import: workers and queue_size cannot be negative")
	}
	if c.Live.Connect {
		if err := c.NT4().Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "live section")
		}
	}
	if c.Gateway.Enabled {
		gw := c.GatewayConfig()
		if err := gw.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "gateway section")
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid(fmt.Sprintf("metrics: path %q must start with /", c.Metrics.Path))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case FormatJSON, FormatText:
	default:
		return invalid(fmt.Sprintf("log: unknown format %q", c.Log.Format))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "validate config")
}

// NT4 returns the live section as a client configuration.
func (c *Config) NT4() nt4.Config {
	return nt4.Config{
		Host:             c.Live.Host,
		Port:             c.Live.Port,
		AppName:          c.Live.AppName,
		ReconnectDelay:   c.Live.ReconnectDelay.Std(),
		TimeSyncInterval: c.Live.TimeSyncInterval.Std(),
		HandshakeTimeout: c.Live.HandshakeTimeout.Std(),
		WriteTimeout:     c.Live.WriteTimeout.Std(),
		QueueSize:        c.Live.QueueSize,
	}
}

// Session returns the store and import sections as a session configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		Nested: c.Store.Nested,
		Flat:   c.Store.Flat,
		Import: wpilog.ImporterConfig{
			Workers:   c.Import.Workers,
			QueueSize: c.Import.QueueSize,
		},
		StopTimeout: c.Store.StopTimeout.Std(),
	}
}

// GatewayConfig returns the gateway section as a server configuration.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Addr:            c.Gateway.Addr,
		EnableCORS:      c.Gateway.EnableCORS,
		CORSOrigins:     append([]string(nil), c.Gateway.CORSOrigins...),
		MaxRangeSamples: c.Gateway.MaxRangeSamples,
		MaxUploadSize:   c.Gateway.MaxUploadSize,
		StreamBuffer:    c.Gateway.StreamBuffer,
		WriteTimeout:    c.Gateway.WriteTimeout.Std(),
	}
}

// ApplyEnv overrides settings from environment variables named
// <prefix>_SECTION_KEY, e.g. NTSCOPE_LIVE_HOST. Unparseable values are
// reported rather than ignored.
func (c *Config) ApplyEnv(prefix string) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(prefix + "_" + key); ok {
			*dst = v
		}
	}
	str("LIVE_HOST", &c.Live.Host)
	str("LIVE_APP_NAME", &c.Live.AppName)
	str("GATEWAY_ADDR", &c.Gateway.Addr)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookupEnv(prefix + "_LIVE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_LIVE_PORT=%q", errors.ErrInvalidConfig, prefix, v),
				"Config", "ApplyEnv", "parse port")
		}
		c.Live.Port = port
	}
	if v, ok := lookupEnv(prefix + "_LIVE_CONNECT"); ok {
		connect, err := strconv.ParseBool(v)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_LIVE_CONNECT=%q", errors.ErrInvalidConfig, prefix, v),
				"Config", "ApplyEnv", "parse connect flag")
		}
		c.Live.Connect = connect
	}
	if v, ok := lookupEnv(prefix + "_LIVE_RECONNECT_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_LIVE_RECONNECT_DELAY=%q", errors.ErrInvalidConfig, prefix, v),
				"Config", "ApplyEnv", "parse reconnect delay")
		}
		c.Live.ReconnectDelay = Duration(d)
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || len(v) > maxEnvVarLen {
		return "", false
	}
	return v, true
}
