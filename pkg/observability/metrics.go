package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "greenlight"

// Metrics are the Prometheus collectors fed from lifecycle telemetry.
type Metrics struct {
	// Unit metrics
	UnitsStarted  prometheus.Counter
	UnitsFinished *prometheus.CounterVec
	UnitDuration  *prometheus.HistogramVec
	UnitsInFlight prometheus.Gauge

	// Browser metrics
	BrowserLaunches      *prometheus.CounterVec
	BrowserLaunchLatency prometheus.Histogram
	BrowserReleases      *prometheus.CounterVec
	SessionsActive       prometheus.Gauge
	Navigations          prometheus.Counter

	// Artifact metrics
	ArtifactsCaptured *prometheus.CounterVec
	CaptureFailures   *prometheus.CounterVec

	// Accessibility metrics
	A11yChecks             *prometheus.CounterVec
	A11yBlockingViolations prometheus.Histogram

	// Event metrics
	EventsConsumed *prometheus.CounterVec

	// Event stream metrics
	StreamConnections  prometheus.Gauge
	StreamMessagesSent prometheus.Counter
	StreamDrops        prometheus.Counter
}

// NewMetrics registers every collector with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UnitsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "started_total",
			Help:      "Total number of units started",
		}),
		UnitsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "finished_total",
			Help:      "Total number of units finished",
		}, []string{"outcome"}),
		UnitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "duration_seconds",
			Help:      "Unit wall-clock duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"outcome"}),
		UnitsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "in_flight",
			Help:      "Number of units currently running",
		}),

		BrowserLaunches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "launches_total",
			Help:      "Total number of shared browser launches",
		}, []string{"engine"}),
		BrowserLaunchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "launch_latency_seconds",
			Help:      "Shared browser launch latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		BrowserReleases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "releases_total",
			Help:      "Total number of shared browser releases",
		}, []string{"engine", "result"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "sessions_active",
			Help:      "Number of open isolated browser sessions",
		}),
		Navigations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "navigations_total",
			Help:      "Total number of page navigations",
		}),

		ArtifactsCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "captured_total",
			Help:      "Total number of diagnostic artifacts persisted",
		}, []string{"kind"}),
		CaptureFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "capture_failures_total",
			Help:      "Total number of diagnostic captures that failed",
		}, []string{"kind"}),

		A11yChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "a11y",
			Name:      "checks_total",
			Help:      "Total number of accessibility checks",
		}, []string{"result"}), // "passed" or "failed"
		A11yBlockingViolations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "a11y",
			Name:      "blocking_violations",
			Help:      "Blocking violations per accessibility check",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		}),

		EventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Total number of telemetry events consumed",
		}, []string{"event_type"}),

		StreamConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "event_stream",
			Name:      "connections_active",
			Help:      "Number of currently active event stream WebSocket connections",
		}),
		StreamMessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_stream",
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent to WebSocket clients",
		}),
		StreamDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_stream",
			Name:      "backpressure_drops_total",
			Help:      "Total number of events dropped due to backpressure",
		}),
	}
}
