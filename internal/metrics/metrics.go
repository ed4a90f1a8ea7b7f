package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	sessionsLaunched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "session",
			Name:      "launched_total",
			Help:      "Number of browser sessions launched, by trigger (create, restart, rotation).",
		}, []string{"trigger"},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Number of browser sessions closed, by session type.",
		}, []string{"type"},
	)
	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "session",
			Name:      "launch_failures_total",
			Help:      "Number of failed browser launches.",
		},
	)
	sessionRuntime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sessionkeeper",
			Subsystem: "session",
			Name:      "runtime_minutes",
			Help:      "Recorded runtime of closed sessions in minutes.",
			Buckets:   []float64{1, 3, 5, 10, 30, 60, 180, 720, 1440},
		},
	)
	runningSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sessionkeeper",
			Subsystem: "session",
			Name:      "running",
			Help:      "Current number of live browser sessions.",
		},
	)
	keepAliveTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "keepalive",
			Name:      "ticks_total",
			Help:      "Keep-alive ticks by outcome (ok, error).",
		}, []string{"outcome"},
	)
	rotationCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "rotation",
			Name:      "cycles_total",
			Help:      "Rotation ticks by outcome (skipped, empty, launched, error).",
		}, []string{"outcome"},
	)
	observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sessionkeeper",
			Subsystem: "broadcast",
			Name:      "observers",
			Help:      "Current number of connected observers.",
		},
	)
	historyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "history",
			Name:      "send_failures_total",
			Help:      "Failed history exports by sink.",
		}, []string{"sink"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionsLaunched, sessionsClosed, launchFailures, sessionRuntime,
		runningSessions, keepAliveTicks, rotationCycles, observers, historyFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunched(trigger string) {
	if regOK.Load() {
		sessionsLaunched.WithLabelValues(trigger).Inc()
	}
}

func IncLaunchFailure() {
	if regOK.Load() {
		launchFailures.Inc()
	}
}

func ObserveClosed(sessionType string, runtimeMinutes int) {
	if regOK.Load() {
		sessionsClosed.WithLabelValues(sessionType).Inc()
		sessionRuntime.Observe(float64(runtimeMinutes))
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningSessions.Set(float64(n))
	}
}

func IncKeepAlive(ok bool) {
	if regOK.Load() {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		keepAliveTicks.WithLabelValues(outcome).Inc()
	}
}

func IncRotation(outcome string) {
	if regOK.Load() {
		rotationCycles.WithLabelValues(outcome).Inc()
	}
}

func SetObservers(n int) {
	if regOK.Load() {
		observers.Set(float64(n))
	}
}

func IncHistoryFailure(sink string) {
	if regOK.Load() {
		historyFailures.WithLabelValues(sink).Inc()
	}
}
