package pw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/odvcencio/greenlight/pkg/browser"
)

var errTracingDisabled = errors.New("tracing was not started for this session")

// Session is one Playwright browser context and its page.
type Session struct {
	id      string
	context playwright.BrowserContext
	page    playwright.Page
	video   playwright.Video
	tracing bool
	metrics *browser.Metrics

	mu     sync.Mutex
	closed bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Session) ensureOpen() error {
	if s.Closed() {
		return browser.ErrSessionClosed
	}
	return nil
}

// Navigate loads url, resolved against the session base URL.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := callWithContext(ctx, func() error {
		_, err := s.page.Goto(url)
		return err
	})
	if err != nil {
		return browser.WrapDriverError("navigate", "navigation failed", mapError(err))
	}
	s.metrics.RecordNavigate(s.id, url, time.Since(start))
	return nil
}

// URL returns the page URL, or empty once closed.
func (s *Session) URL() string {
	if s.Closed() {
		return ""
	}
	return s.page.URL()
}

// Evaluate runs a JavaScript expression or function in the page.
func (s *Session) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	var out any
	err := callWithContext(ctx, func() error {
		var err error
		if arg == nil {
			out, err = s.page.Evaluate(expression)
		} else {
			out, err = s.page.Evaluate(expression, arg)
		}
		return err
	})
	if err != nil {
		return nil, browser.WrapDriverError("evaluate", "script evaluation failed", mapError(err))
	}
	return out, nil
}

// InjectScript adds a script tag to the page.
func (s *Session) InjectScript(ctx context.Context, script browser.ScriptTag) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opts := playwright.PageAddScriptTagOptions{}
	switch {
	case script.Content != "":
		opts.Content = playwright.String(script.Content)
	case script.Path != "":
		opts.Path = playwright.String(script.Path)
	case script.URL != "":
		opts.URL = playwright.String(script.URL)
	default:
		return browser.NewDriverError("inject", "script tag has no source")
	}
	err := callWithContext(ctx, func() error {
		_, err := s.page.AddScriptTag(opts)
		return err
	})
	if err != nil {
		return browser.WrapDriverError("inject", "failed to inject script", mapError(err))
	}
	return nil
}

// PressKey presses a key on the page keyboard.
func (s *Session) PressKey(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := callWithContext(ctx, func() error { return s.page.Keyboard().Press(key) }); err != nil {
		return browser.WrapDriverError("press", "key press failed", mapError(err))
	}
	return nil
}

// Screenshot captures the page as PNG.
func (s *Session) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	var data []byte
	err := callWithContext(ctx, func() error {
		var err error
		data, err = s.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(opts.FullPage),
		})
		return err
	})
	if err != nil {
		return nil, browser.WrapDriverError("screenshot", "screenshot failed", mapError(err))
	}
	return data, nil
}

// StopTrace stops tracing and writes the trace archive to path.
func (s *Session) StopTrace(ctx context.Context, path string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if !s.tracing {
		return errTracingDisabled
	}
	err := callWithContext(ctx, func() error { return s.context.Tracing().Stop(path) })
	if err != nil {
		return browser.WrapDriverError("tracing", "failed to stop tracing", mapError(err))
	}
	s.mu.Lock()
	s.tracing = false
	s.mu.Unlock()
	return nil
}

// VideoPath returns the recorded video location. Playwright finishes writing
// the file when the context closes.
func (s *Session) VideoPath() (string, error) {
	if s.video == nil {
		return "", browser.ErrNoVideo
	}
	path, err := s.video.Path()
	if err != nil {
		return "", browser.WrapDriverError("video", "video path unavailable", mapError(err))
	}
	return path, nil
}

// Closed reports whether the session was closed or its page went away.
func (s *Session) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return closed || s.page == nil || s.page.IsClosed()
}

// Close closes the browser context and every page in it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := callWithContext(ctx, func() error { return s.context.Close() })
	if err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
		return browser.WrapDriverError("close", "failed to close browser context", mapError(err))
	}
	return nil
}

var _ browser.Session = (*Session)(nil)
