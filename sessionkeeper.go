package sessionkeeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sessionkeeper/internal/config"
	"github.com/loykin/sessionkeeper/internal/engine"
	"github.com/loykin/sessionkeeper/internal/engine/playwright"
	"github.com/loykin/sessionkeeper/internal/history"
	"github.com/loykin/sessionkeeper/internal/logger"
	hfactory "github.com/loykin/sessionkeeper/internal/history/factory"
	"github.com/loykin/sessionkeeper/internal/manager"
	"github.com/loykin/sessionkeeper/internal/metrics"
	iapi "github.com/loykin/sessionkeeper/internal/server"
	"github.com/loykin/sessionkeeper/internal/store"
	sfactory "github.com/loykin/sessionkeeper/internal/store/factory"
	itls "github.com/loykin/sessionkeeper/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Manager = manager.Manager

type Engine = engine.Engine

type Metadata = store.Metadata

type Instance = store.Instance

type StatusSnapshot = manager.StatusSnapshot

// Close reasons.
const (
	CloseManual     = store.SessionManual
	CloseBackground = store.SessionBackground
	CloseShutdown   = store.SessionShutdown
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// SetupLogging installs the logger described by c.Log as the slog default.
// The closer releases the log file, if any.
func SetupLogging(c *Config) (io.Closer, error) { return logger.Setup(c.Log) }

// NewEngine returns the Chromium engine described by c.Browser.
func NewEngine(c *Config) Engine {
	return playwright.New(playwright.Options{
		Headless:          c.Browser.Headless,
		ExecutablePath:    c.Browser.ExecutablePath,
		Args:              c.Browser.Args,
		NavigationTimeout: c.Browser.NavigationTimeout,
		Install:           c.Browser.Install,
	})
}

// Open connects the repository and history sinks named in c, builds the
// orchestrator around eng and starts it: open instances left over from a
// previous run are reconciled and rotation starts when enabled. The
// returned manager owns eng; release everything with Shutdown.
func Open(ctx context.Context, c *Config, eng Engine) (*Manager, error) {
	repo, err := sfactory.NewFromDSN(c.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var hist *history.Exporter
	if c.History.Enabled && len(c.History.Sinks) > 0 {
		sinks, err := hfactory.NewSinks(c.History.Sinks)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("open history sinks: %w", err)
		}
		hist = history.NewExporter(history.DefaultSendTimeout, sinks...)
	}

	m, err := manager.New(manager.Options{
		Engine:            eng,
		Repo:              repo,
		History:           hist,
		UserDataDir:       c.Browser.UserDataDir,
		KeepAliveInterval: c.Scheduler.KeepAliveInterval,
		RotationInterval:  c.Scheduler.RotationInterval,
		DwellTime:         c.Scheduler.DwellTime,
		RotationBatch:     c.Scheduler.RotationBatch,
		DisableRotation:   !c.Scheduler.RotationEnabled,
	})
	if err != nil {
		_ = hist.Close()
		_ = repo.Close()
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		_ = m.Shutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("start: %w", err)
	}
	return m, nil
}

// Handler returns the API router for mounting into another server.
func Handler(m *Manager, basePath string) http.Handler {
	return iapi.NewRouter(m, basePath).Handler()
}

// NewHTTPServer starts the API server described by c.Server. Metrics are
// mounted under the API base path when enabled without a dedicated listener.
func NewHTTPServer(c *Config, m *Manager) (*http.Server, error) {
	tlsConf, err := itls.Setup(c.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	var opts []iapi.Option
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		opts = append(opts, iapi.WithMetrics(metrics.Handler()))
	}
	r := iapi.NewRouter(m, c.Server.BasePath, opts...)
	slog.Info("api server starting", "listen", c.Server.Listen, "base_path", c.Server.BasePath, "tls", tlsConf != nil)
	return iapi.NewServer(c.Server.Listen, tlsConf, r), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
