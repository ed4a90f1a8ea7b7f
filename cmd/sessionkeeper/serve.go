package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/sessionkeeper"
)

const shutdownTimeout = 30 * time.Second

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := sessionkeeper.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	closer, err := sessionkeeper.SetupLogging(cfg)
	if err != nil {
		return fmt.Errorf("error setting up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, sessionkeeper.NewEngine(cfg))
}

// serve runs the daemon until ctx is cancelled, then closes every session
// with reason shutdown and stops the API server.
func serve(ctx context.Context, cfg *sessionkeeper.Config, eng sessionkeeper.Engine) error {
	if cfg.Metrics.Enabled {
		if err := sessionkeeper.RegisterMetricsDefault(); err != nil {
			slog.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := sessionkeeper.ServeMetrics(cfg.Metrics.Listen); err != nil {
					slog.Error("metrics server error", "listen", cfg.Metrics.Listen, "error", err)
				}
			}()
		}
	}

	// a signal during startup is handled by the shutdown below
	mgr, err := sessionkeeper.Open(context.WithoutCancel(ctx), cfg, eng)
	if err != nil {
		_ = eng.Close()
		return err
	}
	server, err := sessionkeeper.NewHTTPServer(cfg, mgr)
	if err != nil {
		_ = mgr.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(server.Shutdown(sctx), mgr.Shutdown(sctx))
}
