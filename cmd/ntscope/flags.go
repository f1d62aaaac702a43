package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/c360/ntscope/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	WriteConfig     string
	LogLevel        string
	LogFormat       string
	Host            string
	Port            int
	Connect         bool
	LogFile         string
	GatewayAddr     string
	MetricsAddr     string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool

	flags *pflag.FlagSet
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		getEnv("NTSCOPE_CONFIG", ""),
		"Path to a .json, .yaml or .toml configuration file (env: NTSCOPE_CONFIG)")
	fs.StringVar(&cfg.WriteConfig, "write-config", "",
		"Write the effective configuration to this path and exit")
	fs.StringVar(&cfg.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error (env: NTSCOPE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "text",
		"Log format: json, text (env: NTSCOPE_LOG_FORMAT)")
	fs.StringVar(&cfg.Host, "host", "",
		"NT4 server host, e.g. 10.TE.AM.2 (env: NTSCOPE_LIVE_HOST)")
	fs.IntVar(&cfg.Port, "port", 0,
		"NT4 server port (env: NTSCOPE_LIVE_PORT)")
	fs.BoolVar(&cfg.Connect, "connect", false,
		"Connect to the NT4 server at startup (env: NTSCOPE_LIVE_CONNECT)")
	fs.StringVarP(&cfg.LogFile, "open", "o", "",
		"WPILOG file to open at startup")
	fs.StringVar(&cfg.GatewayAddr, "gateway-addr", "",
		"HTTP gateway listen address (env: NTSCOPE_GATEWAY_ADDR)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Standalone metrics listen address, enables the metrics server (env: NTSCOPE_METRICS_ADDR)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("NTSCOPE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: NTSCOPE_SHUTDOWN_TIMEOUT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.flags = fs
	return cfg, nil
}

// changed reports whether name was given on the command line.
func (c *CLIConfig) changed(name string) bool {
	return c.flags != nil && c.flags.Changed(name)
}

// apply overrides file and environment settings with explicit flags.
func (c *CLIConfig) apply(cfg *config.Config) {
	if c.changed("log-level") {
		cfg.Log.Level = c.LogLevel
	}
	if c.changed("log-format") {
		cfg.Log.Format = c.LogFormat
	}
	if c.changed("host") {
		cfg.Live.Host = c.Host
	}
	if c.changed("port") {
		cfg.Live.Port = c.Port
	}
	if c.changed("connect") {
		cfg.Live.Connect = c.Connect
	}
	if c.changed("gateway-addr") {
		cfg.Gateway.Addr = c.GatewayAddr
	}
	if c.changed("metrics-addr") {
		cfg.Metrics.Addr = c.MetricsAddr
		cfg.Metrics.Enabled = true
	}
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if cfg.LogFile != "" && cfg.changed("connect") && cfg.Connect {
		return fmt.Errorf("--open and --connect are mutually exclusive")
	}
	if cfg.LogFile != "" {
		if _, err := os.Stat(cfg.LogFile); err != nil {
			return fmt.Errorf("log file not found: %s", cfg.LogFile)
		}
	}
	return nil
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - NetworkTables telemetry viewer backend

Usage: %s [options]

Options:
%s
Examples:
  # Follow a simulator on localhost
  %s --connect

  # Follow a robot, serving the gateway on :8080
  %s --connect --host 10.12.34.2

  # Browse a recorded log
  %s --open match.wpilog

  # Dump the effective configuration
  %s --config ntscope.yaml --write-config out.toml

Version: %s
`, appName, appName, fs.FlagUsages(), appName, appName, appName, appName, Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
