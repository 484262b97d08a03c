package pw

import (
	"context"
	"errors"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/odvcencio/greenlight/pkg/browser"
)

// Browser is a launched Playwright browser plus the driver that runs it.
type Browser struct {
	driver  *playwright.Playwright
	browser playwright.Browser
	engine  browser.Engine
	cfg     Config

	closeOnce sync.Once
	closeErr  error
}

// NewSession opens an isolated browser context with one page.
func (b *Browser) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if !b.Connected() {
		return nil, browser.ErrConnectionLost
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
	}
	if opts.BaseURL != "" {
		ctxOpts.BaseURL = playwright.String(opts.BaseURL)
	}
	if opts.VideoDir != "" {
		ctxOpts.RecordVideo = &playwright.RecordVideo{Dir: opts.VideoDir}
	}
	bc, err := b.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, browser.WrapDriverError("new_context", "failed to create browser context", mapError(err))
	}
	bc.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))

	if opts.Trace {
		if err := bc.Tracing().Start(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		}); err != nil {
			_ = bc.Close()
			return nil, browser.WrapDriverError("tracing", "failed to start tracing", mapError(err))
		}
	}

	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return nil, browser.WrapDriverError("new_page", "failed to open page", mapError(err))
	}

	sess := &Session{
		id:      opts.ID,
		context: bc,
		page:    page,
		tracing: opts.Trace,
		metrics: b.cfg.Metrics,
	}
	if opts.VideoDir != "" {
		sess.video = page.Video()
	}
	return sess, nil
}

// Connected reports whether the browser process is still reachable.
func (b *Browser) Connected() bool {
	return b != nil && b.browser != nil && b.browser.IsConnected()
}

// Version returns the engine version string.
func (b *Browser) Version() string {
	if b == nil || b.browser == nil {
		return ""
	}
	return b.browser.Version()
}

// Close closes the browser and stops the driver. It is safe to call twice.
func (b *Browser) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		if b.cfg.CloseTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.cfg.CloseTimeout)
			defer cancel()
		}
		b.closeErr = callWithContext(ctx, func() error {
			var errs []error
			if err := b.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
				errs = append(errs, err)
			}
			if err := b.driver.Stop(); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		})
	})
	return b.closeErr
}

var _ browser.Browser = (*Browser)(nil)
