// Package lifecycle drives suites and units through their browser lifecycle.
//
// A suite owns one shared browser. Every unit gets an isolated session and
// its own scenario slots, and on failure its evidence is captured from the
// still-open session before that session is released.
package lifecycle

//go:generate mockgen -package=lifecycle -destination=mock_browser_test.go github.com/odvcencio/greenlight/pkg/browser Launcher,Browser,Session

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/greenlight/pkg/artifact"
	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/report"
	"github.com/odvcencio/greenlight/pkg/scenario"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// VideoPolicy controls session recording.
type VideoPolicy struct {
	Record bool
	// Always keeps recordings of passing units too.
	Always bool
}

// Options configures an Orchestrator.
type Options struct {
	RunID   string
	Launch  browser.LaunchOptions
	Session browser.SessionOptions
	Video   VideoPolicy
	Logger  *logging.Logger
	Hub     *telemetry.Hub
	Sink    report.Sink
	Now     func() time.Time
}

// Orchestrator is the suite/unit state machine.
type Orchestrator struct {
	manager  *browser.Manager
	store    *scenario.Store
	capturer *artifact.Capturer
	opts     Options
	logger   *logging.Logger

	mu       sync.Mutex
	state    State
	inFlight map[string]*unit
}

type unit struct {
	id      string
	name    string
	started time.Time
	session browser.Session
}

// New creates an orchestrator in StateNotStarted.
func New(manager *browser.Manager, store *scenario.Store, capturer *artifact.Capturer, opts Options) *Orchestrator {
	if opts.RunID == "" {
		opts.RunID = ulid.Make().String()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = scenario.NewStore()
	}
	return &Orchestrator{
		manager:  manager,
		store:    store,
		capturer: capturer,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).WithRun(opts.RunID),
		inFlight: make(map[string]*unit),
	}
}

// RunID returns the run identifier stamped on results and events.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// State returns the current suite state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// InFlight returns the IDs of units that started but have not ended.
func (o *Orchestrator) InFlight() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.inFlight))
	for id := range o.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SuiteStart launches the shared browser if absent and prepares the artifact
// layout. A torn-down suite may be started again.
func (o *Orchestrator) SuiteStart(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateUnitRunning {
		return invalid("suite_start", o.state)
	}
	if o.capturer != nil {
		if err := o.capturer.Layout().Ensure(); err != nil {
			return errors.Infrastructure(err, "failed to prepare artifact directories").
				WithContext("root", o.capturer.Layout().Root)
		}
	}
	if _, err := o.manager.AcquireShared(ctx, o.opts.Launch); err != nil {
		return err
	}
	o.state = StateSuiteReady
	o.publish(telemetry.EventSuiteStarted, "", map[string]any{"engine": o.opts.Launch.Engine.String()})
	o.logger.Info("suite started")
	return nil
}

// UnitStart opens an isolated session for a new unit and binds it to the
// returned context. Steps must run under that context; UnitEnd must receive
// it too. When the session cannot be opened the slots are cleared, the unit
// is reported failed and an INFRASTRUCTURE error is returned.
func (o *Orchestrator) UnitStart(ctx context.Context, name string) (context.Context, error) {
	u := &unit{id: ulid.Make().String(), name: name, started: o.opts.Now()}

	o.mu.Lock()
	if o.state != StateSuiteReady && o.state != StateUnitRunning {
		state := o.state
		o.mu.Unlock()
		return ctx, invalid("unit_start", state)
	}
	o.inFlight[u.id] = u
	o.state = StateUnitRunning
	o.mu.Unlock()

	uctx, _ := o.store.Begin(ctx, u.id, name)
	logger := o.logger.WithUnit(u.id, name)
	logger.UnitStarted(u.id, name)
	o.publish(telemetry.EventUnitStarted, u.id, map[string]any{"name": name})

	sess, err := o.manager.AcquireScoped(uctx, o.sessionOptions())
	if err == nil {
		err = scenario.SetSession(uctx, sess)
		u.session = sess
	}
	if err != nil {
		if sess != nil {
			_ = o.manager.ReleaseScoped(context.WithoutCancel(uctx), sess)
		}
		o.store.Clear(uctx)
		o.finish(u)
		cause := errors.Wrap(err, errors.ErrCodeInfrastructure, "failed to start unit").
			WithContext("unit", name)
		o.record(uctx, report.UnitResult{
			RunID:     o.opts.RunID,
			UnitID:    u.id,
			Name:      name,
			Outcome:   report.OutcomeFailed,
			StartedAt: u.started,
			Duration:  o.opts.Now().Sub(u.started),
			Err:       cause,
		}, logger)
		return uctx, cause
	}
	return uctx, nil
}

// UnitEnd tears down the unit bound to ctx. For a failed unit the screenshot
// (and trace, when tracing) is taken from the live session before it is
// released. Release and slot clearing always run; capture failures are
// logged and never replace the unit's own cause. The returned error only
// reports teardown problems.
func (o *Orchestrator) UnitEnd(ctx context.Context, outcome report.Outcome, cause error) error {
	u, err := o.lookup(ctx)
	if err != nil {
		return err
	}
	switch outcome {
	case report.OutcomePassed, report.OutcomeSkipped, report.OutcomeFailed:
	default:
		outcome = report.OutcomeFailed
	}
	teardown := context.WithoutCancel(ctx)
	logger := o.logger.WithUnit(u.id, u.name)

	defer o.finish(u)
	defer o.store.Clear(ctx)
	released := false
	defer func() {
		if !released {
			_ = o.manager.ReleaseScoped(teardown, u.session)
		}
	}()

	result := report.UnitResult{
		RunID:     o.opts.RunID,
		UnitID:    u.id,
		Name:      u.name,
		Outcome:   outcome,
		StartedAt: u.started,
		Err:       cause,
	}
	if outcome == report.OutcomeFailed {
		result.Attachments = append(result.Attachments, o.captureFailure(teardown, u, logger)...)
	}
	result.Attachments = append(result.Attachments, apiAttachments(ctx)...)

	releaseErr := o.manager.ReleaseScoped(teardown, u.session)
	released = true
	if releaseErr != nil {
		logger.Warn("session release failed", "error", releaseErr)
	}
	if a := o.finalizeVideo(u, outcome, logger); a != nil {
		result.Attachments = append(result.Attachments, *a)
	}

	result.Duration = o.opts.Now().Sub(u.started)
	o.record(teardown, result, logger)
	return releaseErr
}

// SuiteEnd releases the shared browser. It refuses while any unit is still
// in flight so a slow unit never loses its browser.
func (o *Orchestrator) SuiteEnd(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateSuiteTornDown:
		return nil
	case StateNotStarted:
		return invalid("suite_end", o.state)
	case StateUnitRunning:
		ids := make([]string, 0, len(o.inFlight))
		for id := range o.inFlight {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return errors.Infrastructure(ErrUnitsInFlight, "cannot end suite while units are running").
			WithContext("units", ids)
	}
	if leaked := o.store.Active(); len(leaked) > 0 {
		o.logger.Warn("scenario slots were never cleared", "units", leaked)
	}
	err := o.manager.ReleaseShared(ctx)
	o.state = StateSuiteTornDown
	o.publish(telemetry.EventSuiteFinished, "", nil)
	o.logger.Info("suite finished")
	return err
}

// RunUnit runs fn as one complete unit. Every exit path of fn, including a
// panic, ends the unit. A skip error yields OutcomeSkipped and a nil error;
// any other error, or a panic, yields OutcomeFailed and is returned joined
// with any teardown error.
func (o *Orchestrator) RunUnit(ctx context.Context, name string, fn func(context.Context) error) (report.Outcome, error) {
	uctx, err := o.UnitStart(ctx, name)
	if err != nil {
		return report.OutcomeFailed, err
	}

	cause := invoke(uctx, fn)
	outcome := report.OutcomePassed
	switch {
	case cause == nil:
	case errors.IsSkip(cause):
		outcome = report.OutcomeSkipped
	default:
		outcome = report.OutcomeFailed
	}

	endErr := o.UnitEnd(uctx, outcome, cause)
	if outcome == report.OutcomeFailed {
		return outcome, stderrors.Join(cause, endErr)
	}
	return outcome, endErr
}

func invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeInternal, fmt.Sprintf("unit panicked: %v", r))
		}
	}()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (o *Orchestrator) sessionOptions() browser.SessionOptions {
	opts := o.opts.Session
	if o.opts.Video.Record && opts.VideoDir == "" && o.capturer != nil {
		opts.VideoDir = filepath.Join(o.capturer.Layout().Dir(artifact.KindVideo), ".recording")
	}
	return opts
}

func (o *Orchestrator) lookup(ctx context.Context) (*unit, error) {
	id, ok := scenario.UnitID(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: unit_end without a unit context", ErrInvalidTransition)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.inFlight[id]
	if !ok {
		return nil, fmt.Errorf("%w: unit %s is not running", ErrInvalidTransition, id)
	}
	return u, nil
}

func (o *Orchestrator) finish(u *unit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, u.id)
	if len(o.inFlight) == 0 && o.state == StateUnitRunning {
		o.state = StateSuiteReady
	}
}

func (o *Orchestrator) captureFailure(ctx context.Context, u *unit, logger *logging.Logger) []report.Attachment {
	if o.capturer == nil {
		return nil
	}
	var out []report.Attachment
	if a, err := o.capturer.Capture(ctx, u.session, u.name); err != nil {
		logger.CaptureFailed(string(artifact.KindScreenshot), u.name, err)
	} else {
		out = append(out, attachment(a))
	}
	if o.opts.Session.Trace {
		if a, err := o.capturer.CaptureTrace(ctx, u.session, u.name); err != nil {
			logger.CaptureFailed(string(artifact.KindTrace), u.name, err)
		} else {
			out = append(out, attachment(a))
		}
	}
	return out
}

// finalizeVideo runs after the session is closed, when the recording is complete.
func (o *Orchestrator) finalizeVideo(u *unit, outcome report.Outcome, logger *logging.Logger) *report.Attachment {
	if !o.opts.Video.Record || o.capturer == nil || u.session == nil {
		return nil
	}
	if outcome != report.OutcomeFailed && !o.opts.Video.Always {
		if err := o.capturer.DiscardVideo(u.session); err != nil {
			logger.Warn("failed to discard video", "error", err)
		}
		return nil
	}
	a, err := o.capturer.KeepVideo(u.session, u.name)
	if err != nil {
		logger.CaptureFailed(string(artifact.KindVideo), u.name, err)
		return nil
	}
	if a == nil {
		return nil
	}
	att := attachment(a)
	return &att
}

func attachment(a *artifact.Artifact) report.Attachment {
	return report.Attachment{
		Name:      string(a.Kind),
		MediaType: a.Kind.MediaType(),
		Path:      a.Path,
	}
}

func apiAttachments(ctx context.Context) []report.Attachment {
	var out []report.Attachment
	if req, ok := scenario.APIRequest(ctx); ok && req != "" {
		out = append(out, report.Attachment{Name: "api request", MediaType: "text/plain", Data: []byte(req)})
	}
	if resp, ok := scenario.APIResponse(ctx); ok && resp != "" {
		name := "api response"
		if status, ok := scenario.APIStatus(ctx); ok {
			name = fmt.Sprintf("api response (%d)", status)
		}
		out = append(out, report.Attachment{Name: name, MediaType: "text/plain", Data: []byte(resp)})
	}
	return out
}

func (o *Orchestrator) record(ctx context.Context, result report.UnitResult, logger *logging.Logger) {
	logger.UnitFinished(result.UnitID, result.Name, string(result.Outcome), result.Duration, result.Err)
	o.publish(telemetry.EventUnitFinished, result.UnitID, map[string]any{
		"name":        result.Name,
		"outcome":     string(result.Outcome),
		"duration_ms": result.Duration.Milliseconds(),
		"attachments": len(result.Attachments),
	})
	if o.opts.Sink == nil {
		return
	}
	if err := o.opts.Sink.Record(ctx, result); err != nil {
		logger.Warn("failed to record unit result", "error", err)
	}
}

func (o *Orchestrator) publish(t telemetry.EventType, unitID string, data map[string]any) {
	o.opts.Hub.Publish(telemetry.Event{
		Type:      t,
		Timestamp: o.opts.Now(),
		RunID:     o.opts.RunID,
		UnitID:    unitID,
		Data:      data,
	})
}

func invalid(event string, state State) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, state)
}
