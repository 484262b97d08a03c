package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
)

// Manager owns the shared browser and lends isolated sessions on top of it.
//
// The shared browser is launched at most once per AcquireShared/ReleaseShared
// cycle no matter how many goroutines race to acquire it. Sessions are never
// tracked here: each one belongs to the unit that acquired it.
type Manager struct {
	launcher Launcher
	metrics  *Metrics
	logger   *logging.Logger

	// shared is read without the lock on the fast path; mu serializes
	// launch and release.
	shared atomic.Pointer[sharedBrowser]
	mu     sync.Mutex
}

type sharedBrowser struct {
	browser Browser
	engine  Engine
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records launches and sessions into m.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

// NewManager creates a Manager backed by the provided launcher.
func NewManager(launcher Launcher, opts ...Option) *Manager {
	m := &Manager{launcher: launcher}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger)
	return m
}

// Metrics returns the manager's metrics collector, which may be nil.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// AcquireShared returns the live shared browser, launching it if absent.
// A browser that lost its connection is replaced.
func (m *Manager) AcquireShared(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if m == nil || m.launcher == nil {
		return nil, errors.Infrastructure(ErrUnavailable, "no browser launcher configured")
	}
	if sb := m.shared.Load(); sb != nil && sb.browser.Connected() {
		return sb.browser, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sb := m.shared.Load(); sb != nil {
		if sb.browser.Connected() {
			return sb.browser, nil
		}
		m.logger.Warn("shared browser disconnected; relaunching", "engine", sb.engine.String())
		_ = sb.browser.Close(ctx)
		m.shared.Store(nil)
	}

	if opts.Engine == "" {
		opts.Engine = EngineChromium
	}
	start := time.Now()
	b, err := m.launcher.Launch(ctx, opts)
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to launch "+opts.Engine.String()).
			WithContext("engine", opts.Engine.String()).
			WithRemediation("run `greenlight doctor` to verify the browser installation")
	}
	took := time.Since(start)
	m.shared.Store(&sharedBrowser{browser: b, engine: opts.Engine})
	m.metrics.RecordLaunch(opts.Engine, b.Version(), took)
	m.logger.BrowserLaunched(opts.Engine.String(), b.Version(), took)
	return b, nil
}

// Shared returns the current shared browser without launching one.
func (m *Manager) Shared() (Browser, bool) {
	if m == nil {
		return nil, false
	}
	sb := m.shared.Load()
	if sb == nil {
		return nil, false
	}
	return sb.browser, true
}

// Live reports whether a connected shared browser is held.
func (m *Manager) Live() bool {
	b, ok := m.Shared()
	return ok && b.Connected()
}

// ReleaseShared closes the shared browser and forgets it, so a later
// AcquireShared launches a fresh one. Releasing when nothing is held is a no-op.
func (m *Manager) ReleaseShared(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sb := m.shared.Swap(nil)
	if sb == nil {
		return nil
	}
	err := sb.browser.Close(ctx)
	m.metrics.RecordRelease(sb.engine, err)
	m.logger.BrowserReleased(sb.engine.String(), err)
	if err != nil {
		return errors.Infrastructure(err, "failed to close shared browser").
			WithContext("engine", sb.engine.String())
	}
	return nil
}

// AcquireScoped opens an isolated session on the shared browser. It fails
// with ErrUnavailable when no connected shared browser exists.
func (m *Manager) AcquireScoped(ctx context.Context, opts SessionOptions) (Session, error) {
	if m == nil {
		return nil, errors.Infrastructure(ErrUnavailable, "no browser manager")
	}
	sb := m.shared.Load()
	if sb == nil || !sb.browser.Connected() {
		return nil, errors.Infrastructure(ErrUnavailable, "no shared browser is running")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	sess, err := sb.browser.NewSession(ctx, opts.Normalize())
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to open isolated browser session").
			WithContext("browser_session_id", opts.ID)
	}
	m.metrics.RecordSessionCreated(sess.ID())
	m.logger.Debug("browser session opened", "browser_session_id", sess.ID())
	return sess, nil
}

// ReleaseScoped closes a session. Nil or already closed sessions are ignored.
func (m *Manager) ReleaseScoped(ctx context.Context, sess Session) error {
	if sess == nil || sess.Closed() {
		return nil
	}
	err := sess.Close(ctx)
	if m != nil {
		m.metrics.RecordSessionClosed(sess.ID())
		m.logger.Debug("browser session closed", "browser_session_id", sess.ID())
	}
	if err != nil {
		return errors.Infrastructure(err, "failed to close browser session").
			WithContext("browser_session_id", sess.ID())
	}
	return nil
}
