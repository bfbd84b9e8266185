// Command sessiond is the main entry point for the real-time experience
// runtime: the session endpoint, gateway proxy, and health listeners of
// SPEC_FULL.md components 7-8.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-run/aoi-runtime/internal/app"
	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	dataRoot := flag.String("data-root", "experiences", "filesystem root for experience content and player-view JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sessiond: config file %q not found; pass -config to point at one\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sessiond starting",
		"config", *configPath,
		"data_root", *dataRoot,
		"session_listen_addr", cfg.Server.SessionListenAddr,
		"gateway_listen_addr", cfg.Server.GatewayListenAddr,
		"experiences", len(cfg.Experiences),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "aoi-runtime",
	})
	if err != nil {
		slog.Error("failed to init observability providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, *dataRoot, app.WithMetricsShutdown(metricsShutdown))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Admin reload: watch the config file and rebuild a second App instance
	// is out of scope for the MVP (§3: "reload is an admin operation", not
	// an automatic live-reload); the Watcher is available to admin tooling
	// that wants to trigger one via a controlled restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		slog.Info("config file changed on disk; restart sessiond to apply", "path", *configPath)
	})
	if err != nil {
		slog.Warn("config watcher not started", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("sessiond ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	if runErr != nil {
		return 1
	}
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
