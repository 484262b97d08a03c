package lifecycle

import (
	"context"
	stderrors "errors"

	"github.com/odvcencio/greenlight/pkg/report"
)

// State is the suite-level lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateSuiteReady
	StateUnitRunning
	StateSuiteTornDown
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSuiteReady:
		return "suite_ready"
	case StateUnitRunning:
		return "unit_running"
	case StateSuiteTornDown:
		return "suite_torn_down"
	default:
		return "unknown"
	}
}

// EventKind names a lifecycle transition requested by a runner.
type EventKind string

const (
	EventSuiteStart EventKind = "suite_start"
	EventUnitStart  EventKind = "unit_start"
	EventUnitEnd    EventKind = "unit_end"
	EventSuiteEnd   EventKind = "suite_end"
)

// Event is a lifecycle notification from an external runner. Unit is the
// unit name for UnitStart; Outcome and Cause apply to UnitEnd.
type Event struct {
	Kind    EventKind
	Unit    string
	Outcome report.Outcome
	Cause   error
}

var (
	// ErrInvalidTransition is returned for an event the current state does not accept.
	ErrInvalidTransition = stderrors.New("invalid lifecycle transition")
	// ErrUnitsInFlight is wrapped when the suite is ended while units still run.
	ErrUnitsInFlight = stderrors.New("units still in flight")
)

// Handle dispatches ev to the matching transition. For UnitStart the returned
// context is the unit context that must be passed back with the UnitEnd event;
// every other kind returns ctx unchanged.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) (context.Context, error) {
	switch ev.Kind {
	case EventSuiteStart:
		return ctx, o.SuiteStart(ctx)
	case EventUnitStart:
		return o.UnitStart(ctx, ev.Unit)
	case EventUnitEnd:
		return ctx, o.UnitEnd(ctx, ev.Outcome, ev.Cause)
	case EventSuiteEnd:
		return ctx, o.SuiteEnd(ctx)
	default:
		return ctx, invalid(string(ev.Kind), o.State())
	}
}
