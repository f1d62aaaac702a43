package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "ntscope.json",
			content: `{
				"live": {"connect": true, "host": "10.0.0.2", "reconnect_delay": "250ms"},
				"store": {"flat": false},
				"gateway": {"addr": ":9000"},
				"log": {"level": "debug", "format": "json"}
			}`,
		},
		{
			name: "yaml",
			file: "ntscope.yml",
			content: `
live:
  connect: true
  host: 10.0.0.2
  reconnect_delay: 250ms
store:
  flat: false
gateway:
  addr: ":9000"
log:
  level: debug
  format: json
`,
		},
		{
			name: "toml",
			file: "ntscope.toml",
			content: `
[live]
connect = true
host = "10.0.0.2"
reconnect_delay = "250ms"

[store]
flat = false

[gateway]
addr = ":9000"

[log]
level = "debug"
format = "json"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.True(t, cfg.Live.Connect)
			assert.Equal(t, "10.0.0.2", cfg.Live.Host)
			assert.Equal(t, 250*time.Millisecond, cfg.Live.ReconnectDelay.Std())
			assert.True(t, cfg.Store.Nested, "unset booleans keep their defaults")
			assert.False(t, cfg.Store.Flat)
			assert.Equal(t, ":9000", cfg.Gateway.Addr)
			assert.True(t, cfg.Gateway.Enabled)
			assert.Equal(t, FormatJSON, cfg.Log.Format)

			// untouched settings come from Default
			def := Default()
			assert.Equal(t, def.Live.Port, cfg.Live.Port)
			assert.Equal(t, def.Import, cfg.Import)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "ntscope.ini", "x=1"},
		{"unknown json key", "a.json", `{"livee": {}}`},
		{"unknown toml key", "a.toml", "[live]\nhostname = \"x\"\n"},
		{"bad duration", "a.yaml", "live:\n  reconnect_delay: soon\n"},
		{"no trees", "a.json", `{"store": {"nested": false, "flat": false}}`},
		{"bad level", "a.json", `{"log": {"level": "loud"}}`},
		{"cors without origins", "a.json", `{"gateway": {"enable_cors": true}}`},
		{"deep json", "a.json", deepJSON(maxJSONDepth + 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDuration_Numbers(t *testing.T) {
	var cfg Config
	require.NoError(t, Decode([]byte(`{"live": {"reconnect_delay": 1000000}}`), JSON, &cfg))
	assert.Equal(t, time.Millisecond, cfg.Live.ReconnectDelay.Std())

	require.NoError(t, Decode([]byte("live:\n  write_timeout: 2000\n"), YAML, &cfg))
	assert.Equal(t, 2*time.Microsecond, cfg.Live.WriteTimeout.Std())

	require.NoError(t, Decode([]byte("[store]\nstop_timeout = \"2d\"\n"), TOML, &cfg))
	assert.Equal(t, 48*time.Hour, cfg.Store.StopTimeout.Std())
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Live.Host = "roborio.local"
	cfg.Live.ReconnectDelay = Duration(750 * time.Millisecond)
	cfg.Gateway.EnableCORS = true
	cfg.Gateway.CORSOrigins = []string{"http://localhost:3000"}

	for _, name := range []string{"out.json", "out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	def := Default()
	assert.Equal(t, def.Live.Host, cfg.Live.Host)
	assert.Equal(t, def.Gateway.MaxUploadSize, cfg.Gateway.MaxUploadSize)
	assert.Equal(t, def.Store.StopTimeout, cfg.Store.StopTimeout)
	assert.False(t, cfg.Store.Nested, "booleans are not defaulted")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NTSCOPE_LIVE_HOST", "10.99.0.2")
	t.Setenv("NTSCOPE_LIVE_PORT", "5811")
	t.Setenv("NTSCOPE_LIVE_CONNECT", "true")
	t.Setenv("NTSCOPE_LOG_LEVEL", "warn")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv("NTSCOPE"))
	assert.Equal(t, "10.99.0.2", cfg.Live.Host)
	assert.Equal(t, 5811, cfg.Live.Port)
	assert.True(t, cfg.Live.Connect)
	assert.Equal(t, "warn", cfg.Log.Level)

	t.Setenv("NTSCOPE_LIVE_PORT", "robot")
	err := cfg.ApplyEnv("NTSCOPE")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()
	cfg.Live.Host = "10.0.0.2"
	cfg.Store.Flat = false
	cfg.Import.Workers = 3

	live := cfg.NT4()
	assert.Equal(t, "ws://10.0.0.2:5810/nt/ntscope", live.URL())
	assert.Equal(t, 500*time.Millisecond, live.ReconnectDelay)
	require.NoError(t, live.Validate())

	sess := cfg.Session()
	assert.True(t, sess.Nested)
	assert.False(t, sess.Flat)
	assert.Equal(t, 3, sess.Import.Workers)

	gw := cfg.GatewayConfig()
	assert.Equal(t, ":8080", gw.Addr)
	assert.Equal(t, 10*time.Second, gw.WriteTimeout)
}

func TestValidate_LiveOnlyWhenConnecting(t *testing.T) {
	cfg := Default()
	cfg.Live.Host = ""
	require.NoError(t, cfg.Validate())

	cfg.Live.Connect = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func deepJSON(depth int) string {
	out := ""
	for range depth {
		out += "["
	}
	for range depth {
		out += "]"
	}
	return out
}
