package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cameracapture "github.com/e7canasta/orion-care-sensor/modules/camera-capture"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/statusapi"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/warmup"
)

// Version information
const version = "v0.1.0"

const defaultConfigPath = "config/camera-capture.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty: built-in defaults)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	simulate := flag.Bool("simulate", false, "Use the virtual test pattern camera")
	statsInterval := flag.Duration("stats-interval", 30*time.Second, "Interval between stats reports (0 disables)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("camera-capture %s\n", version)
		os.Exit(0)
	}

	// Bootstrap logger until the configuration is read
	slog.SetDefault(newLogger("text", "info", *debug))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}
	if *simulate {
		cfg.Backend = config.BackendVirtual
	}

	slog.SetDefault(newLogger(cfg.Log.Format, cfg.Log.Level, *debug))

	slog.Info("starting camera-capture",
		"version", version,
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"backend", cfg.Backend,
		"debug", *debug,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	drv := cameracapture.New()
	if err := drv.Initialize(ctx, cfg); err != nil {
		category := "unknown"
		if c, ok := faults.CategoryOf(err); ok {
			category = c.String()
		}
		slog.Error("failed to start capture",
			"error", err,
			"category", category,
			"subject", faults.SubjectOf(err),
		)
		os.Exit(1)
	}

	var srv *statusapi.Server
	if cfg.Status.Listen != "" {
		srv = statusapi.New(cfg.Status.Listen, drv.StatusProvider())
		srv.StartAsync()
	}

	if d := cfg.WarmupDuration(); d > 0 {
		stats, err := drv.Warmup(ctx, d)
		switch {
		case errors.Is(err, warmup.ErrUnstable):
			slog.Warn("frame rate unstable after warm-up, continuing",
				"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
				"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
				"gaps", stats.Gaps,
			)
		case err != nil:
			slog.Warn("warm-up failed, continuing", "error", err)
		}
	}

	var tick <-chan time.Time
	if *statsInterval > 0 {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Wait for shutdown signal
wait:
	for {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
			break wait
		case <-tick:
			s := drv.Stats()
			slog.Info("capture stats",
				"completed", s.Completed,
				"emitted", s.Emitted,
				"dropped", s.Dropped,
				"cancelled", s.Cancelled,
				"requeue_failures", s.RequeueFailures,
				"fps", fmt.Sprintf("%.2f", s.FPS),
				"latency_ms", s.LatencyMS,
			)
		}
	}

	// Graceful shutdown
	shutdownTimeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			slog.Warn("status api shutdown failed", "error", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- drv.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timeout exceeded", "timeout", shutdownTimeout)
		os.Exit(1)
	}

	slog.Info("camera-capture stopped successfully")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the slog handler selected by format and level. debug
// forces the debug level.
func newLogger(format, level string, debug bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if debug {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
