package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// Metrics tracks browser resource counters.
type Metrics struct {
	Launches atomic.Int64
	Releases atomic.Int64

	// Session counts
	SessionsCreated atomic.Int64
	SessionsClosed  atomic.Int64
	ActiveSessions  atomic.Int64

	NavigateCount atomic.Int64

	// Launch latency
	LaunchLatencySum   atomic.Int64 // nanoseconds sum for averaging
	LaunchLatencyCount atomic.Int64

	// Telemetry integration
	mu    sync.RWMutex
	hub   *telemetry.Hub
	runID string
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// EnableTelemetry wires the metrics collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub, runID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.runID = runID
	m.mu.Unlock()
}

// RecordLaunch counts a shared browser launch.
func (m *Metrics) RecordLaunch(engine Engine, version string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Launches.Add(1)
	m.LaunchLatencySum.Add(latency.Nanoseconds())
	m.LaunchLatencyCount.Add(1)
	m.publishEvent(telemetry.EventBrowserLaunched, map[string]any{
		"engine":     string(engine),
		"version":    version,
		"latency_ms": latency.Milliseconds(),
	})
}

// RecordRelease counts a shared browser teardown.
func (m *Metrics) RecordRelease(engine Engine, err error) {
	if m == nil {
		return
	}
	m.Releases.Add(1)
	data := map[string]any{"engine": string(engine)}
	if err != nil {
		data["error"] = err.Error()
	}
	m.publishEvent(telemetry.EventBrowserReleased, data)
}

// RecordSessionCreated increments session creation counter.
func (m *Metrics) RecordSessionCreated(browserSessionID string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(1)
	m.ActiveSessions.Add(1)
	m.publishEvent(telemetry.EventBrowserSessionCreated, map[string]any{
		"browser_session_id": browserSessionID,
	})
}

// RecordSessionClosed increments session close counter.
func (m *Metrics) RecordSessionClosed(browserSessionID string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	m.ActiveSessions.Add(-1)
	m.publishEvent(telemetry.EventBrowserSessionClosed, map[string]any{
		"browser_session_id": browserSessionID,
	})
}

// RecordNavigate increments navigation counter.
func (m *Metrics) RecordNavigate(browserSessionID, url string, latency time.Duration) {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
	m.publishEvent(telemetry.EventBrowserNavigate, map[string]any{
		"browser_session_id": browserSessionID,
		"url":                url,
		"latency_ms":         latency.Milliseconds(),
	})
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	avgLaunch := time.Duration(0)
	if count := m.LaunchLatencyCount.Load(); count > 0 {
		avgLaunch = time.Duration(m.LaunchLatencySum.Load() / count)
	}
	return MetricsSnapshot{
		Launches:             m.Launches.Load(),
		Releases:             m.Releases.Load(),
		SessionsCreated:      m.SessionsCreated.Load(),
		SessionsClosed:       m.SessionsClosed.Load(),
		ActiveSessions:       m.ActiveSessions.Load(),
		NavigateCount:        m.NavigateCount.Load(),
		AverageLaunchLatency: avgLaunch,
	}
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	runID := m.runID
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	Launches             int64
	Releases             int64
	SessionsCreated      int64
	SessionsClosed       int64
	ActiveSessions       int64
	NavigateCount        int64
	AverageLaunchLatency time.Duration
}
