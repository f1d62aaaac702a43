// Package main runs ntscope: it follows a live NT4 server or a recorded
// WPILOG file and serves the resulting field store over HTTP.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/c360/ntscope/config"
	"github.com/c360/ntscope/gateway"
	"github.com/c360/ntscope/health"
	"github.com/c360/ntscope/metric"
	"github.com/c360/ntscope/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ntscope"
)

const healthInterval = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.WriteConfig != "" {
		return cfg.SaveToFile(cli.WriteConfig)
	}
	if cli.Validate {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid")
		return nil
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("Starting ntscope", "build_time", BuildTime, "config_path", cli.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, cli, logger)
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cli.ConfigPath != "" {
		loaded, err := config.Load(cli.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv("NTSCOPE"); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cli.apply(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve starts every service, opens the initial data source and blocks
// until ctx ends.
func serve(ctx context.Context, cfg *config.Config, cli *CLIConfig, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	sess := session.New(cfg.Session(), session.WithLogger(logger), session.WithMetrics(registry))
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	monitor.Watch("session", sess)

	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		srv, err := gateway.NewServer(cfg.GatewayConfig(), sess,
			gateway.WithLogger(logger), gateway.WithMetrics(registry), gateway.WithMonitor(monitor))
		if err != nil {
			_ = sess.Stop(cli.ShutdownTimeout)
			return fmt.Errorf("create gateway: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			_ = sess.Stop(cli.ShutdownTimeout)
			return fmt.Errorf("start gateway: %w", err)
		}
		gw = srv
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			logger.Warn("Metrics server not started", "error", err)
			metricsServer = nil
		} else {
			logger.Info("Metrics server listening", "address", metricsServer.Address())
		}
	}

	if err := openInitial(ctx, cfg, cli, sess, logger); err != nil {
		logger.Error("Initial data source failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchHealth(gctx, monitor, registry.CoreMetrics(), logger)
		return nil
	})
	<-ctx.Done()
	logger.Info("Received shutdown signal")
	_ = g.Wait()

	return shutdown(cli.ShutdownTimeout, gw, metricsServer, sess, logger)
}

func openInitial(ctx context.Context, cfg *config.Config, cli *CLIConfig, sess *session.Session, logger *slog.Logger) error {
	switch {
	case cli.LogFile != "":
		data, err := os.ReadFile(cli.LogFile)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		jobID, err := sess.OpenLog(ctx, filepath.Base(cli.LogFile), data)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		logger.Info("Importing log", "file", cli.LogFile, "job_id", jobID, "bytes", len(data))
	case cfg.Live.Connect:
		live := cfg.NT4()
		if err := sess.ConnectLive(ctx, live); err != nil {
			return fmt.Errorf("connect live: %w", err)
		}
		logger.Info("Following live server", "url", live.URL())
	}
	return nil
}

// watchHealth publishes aggregated health as a gauge and logs transitions.
func watchHealth(ctx context.Context, monitor *health.Monitor, metrics *metric.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	last := ""
	for {
		status := monitor.AggregateHealth(appName)
		metrics.RecordHealthStatus(appName, status.Level())
		if status.Status != last {
			logger.Info("Health changed", "status", status.Status, "message", status.Message)
			last = status.Status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// shutdown stops the outer surfaces before the session they read from.
func shutdown(timeout time.Duration, gw *gateway.Server, metricsServer *metric.Server, sess *session.Session, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	if gw != nil {
		g.Go(func() error { return gw.Stop(timeout) })
	}
	if metricsServer != nil {
		g.Go(func() error { return metricsServer.Stop(ctx) })
	}
	surfaceErr := g.Wait()
	if surfaceErr != nil {
		logger.Error("Error stopping servers", "error", surfaceErr)
	}

	remaining := timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining = max(time.Until(deadline), time.Second)
	}
	if err := sess.Stop(remaining); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if surfaceErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", surfaceErr)
	}

	logger.Info("ntscope shutdown complete")
	return nil
}
