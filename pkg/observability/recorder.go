// Package observability turns lifecycle telemetry into Prometheus metrics
// and OpenTelemetry spans.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// Recorder consumes hub events. Suites become root spans and units become
// their children; every event also updates Metrics.
type Recorder struct {
	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger

	mu     sync.Mutex
	suites map[string]context.Context // runID -> ctx carrying the suite span
	units  map[string]trace.Span      // unitID -> span
}

// NewRecorder creates a recorder. A nil tracer disables spans; nil metrics
// disables metrics.
func NewRecorder(metrics *Metrics, tracer trace.Tracer, logger *logging.Logger) *Recorder {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	return &Recorder{
		metrics: metrics,
		tracer:  tracer,
		logger:  logging.OrNop(logger),
		suites:  make(map[string]context.Context),
		units:   make(map[string]trace.Span),
	}
}

// Run observes events until the channel closes or ctx is done. Spans still
// open when it returns are ended.
func (r *Recorder) Run(ctx context.Context, events <-chan telemetry.Event) {
	defer r.endOpen()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Observe(ev)
		}
	}
}

// Observe applies one event.
func (r *Recorder) Observe(ev telemetry.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m := r.metrics
	if m != nil {
		m.EventsConsumed.WithLabelValues(string(ev.Type)).Inc()
	}

	switch ev.Type {
	case telemetry.EventSuiteStarted:
		r.startSuite(ev)
	case telemetry.EventSuiteFinished:
		r.finishSuite(ev)
	case telemetry.EventUnitStarted:
		if m != nil {
			m.UnitsStarted.Inc()
			m.UnitsInFlight.Inc()
		}
		r.startUnit(ev)
	case telemetry.EventUnitFinished:
		outcome := str(ev.Data, "outcome")
		if m != nil {
			m.UnitsFinished.WithLabelValues(outcome).Inc()
			m.UnitDuration.WithLabelValues(outcome).Observe(millis(ev.Data, "duration_ms").Seconds())
			m.UnitsInFlight.Dec()
		}
		r.finishUnit(ev, outcome)
	case telemetry.EventBrowserLaunched:
		if m != nil {
			m.BrowserLaunches.WithLabelValues(str(ev.Data, "engine")).Inc()
			m.BrowserLaunchLatency.Observe(millis(ev.Data, "latency_ms").Seconds())
		}
	case telemetry.EventBrowserReleased:
		if m != nil {
			result := "ok"
			if str(ev.Data, "error") != "" {
				result = "error"
			}
			m.BrowserReleases.WithLabelValues(str(ev.Data, "engine"), result).Inc()
		}
	case telemetry.EventBrowserSessionCreated:
		if m != nil {
			m.SessionsActive.Inc()
		}
	case telemetry.EventBrowserSessionClosed:
		if m != nil {
			m.SessionsActive.Dec()
		}
	case telemetry.EventBrowserNavigate:
		if m != nil {
			m.Navigations.Inc()
		}
	case telemetry.EventArtifactCaptured:
		if m != nil {
			m.ArtifactsCaptured.WithLabelValues(str(ev.Data, "kind")).Inc()
		}
	case telemetry.EventCaptureFailed:
		if m != nil {
			m.CaptureFailures.WithLabelValues(str(ev.Data, "kind")).Inc()
		}
		r.logger.Debug("capture failure observed", "kind", str(ev.Data, "kind"), "unit", str(ev.Data, "unit"))
	case telemetry.EventA11yChecked:
		if m != nil {
			result := "failed"
			if passed, _ := ev.Data["passed"].(bool); passed {
				result = "passed"
			}
			m.A11yChecks.WithLabelValues(result).Inc()
			m.A11yBlockingViolations.Observe(float64(number(ev.Data, "blocking")))
		}
	}
}

func (r *Recorder) startSuite(ev telemetry.Event) {
	ctx, _ := r.tracer.Start(context.Background(), "suite",
		trace.WithTimestamp(ev.Timestamp),
		trace.WithAttributes(AttrRunID.String(ev.RunID), AttrEngine.String(str(ev.Data, "engine"))),
	)
	r.mu.Lock()
	r.suites[ev.RunID] = ctx
	r.mu.Unlock()
}

func (r *Recorder) finishSuite(ev telemetry.Event) {
	r.mu.Lock()
	ctx, ok := r.suites[ev.RunID]
	delete(r.suites, ev.RunID)
	r.mu.Unlock()
	if ok {
		trace.SpanFromContext(ctx).End(trace.WithTimestamp(ev.Timestamp))
	}
}

func (r *Recorder) startUnit(ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.suites[ev.RunID]
	if !ok {
		parent = context.Background()
	}
	name := str(ev.Data, "name")
	_, span := r.tracer.Start(parent, "unit "+name,
		trace.WithTimestamp(ev.Timestamp),
		trace.WithAttributes(AttrRunID.String(ev.RunID), AttrUnitID.String(ev.UnitID), AttrUnitName.String(name)),
	)
	r.units[ev.UnitID] = span
}

func (r *Recorder) finishUnit(ev telemetry.Event, outcome string) {
	r.mu.Lock()
	span, ok := r.units[ev.UnitID]
	delete(r.units, ev.UnitID)
	r.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(AttrOutcome.String(outcome))
	if outcome == "failed" {
		span.SetStatus(codes.Error, "unit failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(ev.Timestamp))
}

func (r *Recorder) endOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, span := range r.units {
		span.End()
		delete(r.units, id)
	}
	for id, ctx := range r.suites {
		trace.SpanFromContext(ctx).End()
		delete(r.suites, id)
	}
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func number(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func millis(data map[string]any, key string) time.Duration {
	return time.Duration(number(data, key)) * time.Millisecond
}
