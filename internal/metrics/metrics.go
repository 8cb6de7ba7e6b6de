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

	botLaunches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "executor",
			Name:      "launches_total",
			Help:      "Number of successful bot launches.",
		},
	)
	botLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "executor",
			Name:      "launch_failures_total",
			Help:      "Number of failed bot launches by reason.",
		}, []string{"reason"},
	)
	botStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "executor",
			Name:      "stops_total",
			Help:      "Number of bot stops (graceful or kill).",
		},
	)
	botsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botforge",
			Subsystem: "executor",
			Name:      "running_bots",
			Help:      "Current number of running bot processes.",
		},
	)
	generationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "generator",
			Name:      "requests_total",
			Help:      "Number of code-generation backend calls by outcome.",
		}, []string{"outcome"},
	)
	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "botforge",
			Subsystem: "generator",
			Name:      "duration_seconds",
			Help:      "Latency of code-generation backend calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{botLaunches, botLaunchFailures, botStops, botsRunning, generationRequests, generationDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch() {
	if regOK.Load() {
		botLaunches.Inc()
	}
}

func IncLaunchFailure(reason string) {
	if regOK.Load() {
		botLaunchFailures.WithLabelValues(reason).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		botStops.Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		botsRunning.Set(float64(n))
	}
}

func IncGeneration(outcome string) {
	if regOK.Load() {
		generationRequests.WithLabelValues(outcome).Inc()
	}
}

func ObserveGenerationDuration(seconds float64) {
	if regOK.Load() {
		generationDuration.Observe(seconds)
	}
}
