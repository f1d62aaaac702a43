package nt4

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/ntscope/errors"
)

// Subprotocols offered during the websocket handshake, newest first.
var Subprotocols = []string{"v4.1.networktables.first.wpi.edu", "networktables.first.wpi.edu"}

// DefaultPort is the NT4 server port.
const DefaultPort = 5810

// Config holds connection settings for a Client
type Config struct {
	// Host is the robot or simulator address
	Host string `json:"host"`
	// Port defaults to 5810
	Port int `json:"port"`
	// AppName identifies this client to the server and forms the URL path
	AppName string `json:"app_name"`
	// ReconnectDelay is the fixed wait between connection attempts
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	// TimeSyncInterval is how often the clock offset is re-measured
	TimeSyncInterval time.Duration `json:"time_sync_interval"`
	// HandshakeTimeout bounds each dial
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	// WriteTimeout bounds each frame write
	WriteTimeout time.Duration `json:"write_timeout"`
	// QueueSize is the capacity of the frame queue between reader and processor
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns a Config for a local simulator.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             DefaultPort,
		AppName:          "ntscope",
		ReconnectDelay:   500 * time.Millisecond,
		TimeSyncInterval: 5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		QueueSize:        1024,
	}
}

// ApplyDefaults fills zero values from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.AppName == "" {
		c.AppName = d.AppName
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.TimeSyncInterval == 0 {
		c.TimeSyncInterval = d.TimeSyncInterval
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "check host")
	case c.Port <= 0 || c.Port > 65535:
		return errors.WrapInvalid(fmt.Errorf("%w: port %d", errors.ErrInvalidConfig, c.Port),
			"Config", "Validate", "check port")
	case c.AppName == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "check app name")
	case c.ReconnectDelay <= 0 || c.TimeSyncInterval <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: intervals must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "check intervals")
	case c.QueueSize <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: queue size %d", errors.ErrInvalidConfig, c.QueueSize),
			"Config", "Validate", "check queue size")
	}
	return nil
}

// URL returns the websocket endpoint ws://host:port/nt/<app name>.
func (c Config) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/nt/" + c.AppName,
	}
	return u.String()
}
