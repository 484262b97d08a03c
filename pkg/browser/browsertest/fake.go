// Package browsertest provides in-memory browser fakes for tests that
// exercise lifecycle code without a real driver.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/greenlight/pkg/browser"
)

// PNG is a minimal screenshot payload.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Launcher is a browser.Launcher that hands out fake browsers.
type Launcher struct {
	// Delay slows every launch, widening race windows in concurrency tests.
	Delay time.Duration
	// Err fails every launch when set.
	Err error
	// Configure, when set, is applied to every new Browser.
	Configure func(*Browser)

	launches atomic.Int32
	mu       sync.Mutex
	browsers []*Browser
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.launches.Add(1)
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}
	b := NewBrowser(opts.Engine)
	if l.Configure != nil {
		l.Configure(b)
	}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Launches returns how many times Launch was called.
func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Browser is a fake shared browser.
type Browser struct {
	Engine browser.Engine
	// NewSessionErr fails every NewSession call when set.
	NewSessionErr error
	// ScreenshotErr is copied into every new session.
	ScreenshotErr error
	// ConfigureSession, when set, is applied to every new Session.
	ConfigureSession func(*Session)

	mu       sync.Mutex
	closed   bool
	sessions []*Session
}

// NewBrowser returns a connected fake browser.
func NewBrowser(engine browser.Engine) *Browser {
	return &Browser{Engine: engine}
}

// NewSession implements browser.Browser.
func (b *Browser) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, browser.ErrConnectionLost
	}
	if b.NewSessionErr != nil {
		return nil, b.NewSessionErr
	}
	s := NewSession(opts.ID)
	s.Options = opts
	s.ScreenshotErr = b.ScreenshotErr
	if opts.VideoDir != "" {
		s.videoPath = filepath.Join(opts.VideoDir, opts.ID+".webm")
	}
	if b.ConfigureSession != nil {
		b.ConfigureSession(s)
	}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Connected implements browser.Browser.
func (b *Browser) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Version implements browser.Browser.
func (b *Browser) Version() string {
	return "fake-" + string(b.Engine)
}

// Close implements browser.Browser.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Crash simulates the browser process dying.
func (b *Browser) Crash() {
	_ = b.Close(context.Background())
}

// Sessions returns every session opened on the browser.
func (b *Browser) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Session is a fake isolated browsing context. It records the operations
// performed on it so tests can assert ordering.
type Session struct {
	Options       browser.SessionOptions
	ScreenshotErr error
	// EvaluateFunc answers Evaluate; nil returns nil, nil.
	EvaluateFunc func(expression string, arg any) (any, error)

	id        string
	videoPath string

	mu      sync.Mutex
	closed  bool
	url     string
	ops     []string
	scripts []browser.ScriptTag
	keys    []string
}

// NewSession returns an open fake session.
func NewSession(id string) *Session {
	if id == "" {
		id = fmt.Sprintf("fake-%d", time.Now().UnixNano())
	}
	return &Session{id: id}
}

func (s *Session) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	if s.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

// ID implements browser.Session.
func (s *Session) ID() string { return s.id }

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.record("navigate"); err != nil {
		return err
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

// URL implements browser.Session.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Evaluate implements browser.Session.
func (s *Session) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := s.record("evaluate"); err != nil {
		return nil, err
	}
	if s.EvaluateFunc == nil {
		return nil, nil
	}
	return s.EvaluateFunc(expression, arg)
}

// InjectScript implements browser.Session.
func (s *Session) InjectScript(ctx context.Context, script browser.ScriptTag) error {
	if err := s.record("inject"); err != nil {
		return err
	}
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	s.mu.Unlock()
	return nil
}

// PressKey implements browser.Session.
func (s *Session) PressKey(ctx context.Context, key string) error {
	if err := s.record("press"); err != nil {
		return err
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return nil
}

// Screenshot implements browser.Session.
func (s *Session) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if err := s.record("screenshot"); err != nil {
		return nil, err
	}
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	return append([]byte(nil), PNG...), nil
}

// StopTrace implements browser.Session.
func (s *Session) StopTrace(ctx context.Context, path string) error {
	if err := s.record("trace"); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("PK\x03\x04trace"), 0o644)
}

// VideoPath implements browser.Session. The video file appears on Close.
func (s *Session) VideoPath() (string, error) {
	if s.videoPath == "" {
		return "", browser.ErrNoVideo
	}
	return s.videoPath, nil
}

// Closed implements browser.Session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements browser.Session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "close")
	if s.closed {
		return nil
	}
	s.closed = true
	if s.videoPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.videoPath), 0o755); err != nil {
			return err
		}
		return os.WriteFile(s.videoPath, []byte("webm"), 0o644)
	}
	return nil
}

// Ops returns the recorded operation names in call order.
func (s *Session) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// Keys returns every key pressed.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Scripts returns every injected script.
func (s *Session) Scripts() []browser.ScriptTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.ScriptTag(nil), s.scripts...)
}

var (
	_ browser.Launcher = (*Launcher)(nil)
	_ browser.Browser  = (*Browser)(nil)
	_ browser.Session  = (*Session)(nil)
)
