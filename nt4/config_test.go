package nt4

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/ntscope/errors"
)

func TestConfig_URL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "10.0.0.2"
	cfg.AppName = "scope"
	assert.Equal(t, "ws://10.0.0.2:5810/nt/scope", cfg.URL())

	cfg.Host = "::1"
	assert.Equal(t, "ws://[::1]:5810/nt/scope", cfg.URL())
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Host: "robot.local"}
	cfg.ApplyDefaults()

	assert.Equal(t, "robot.local", cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"missing app", func(c *Config) { c.AppName = "" }},
		{"zero delay", func(c *Config) { c.ReconnectDelay = 0 }},
		{"negative queue", func(c *Config) { c.QueueSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
