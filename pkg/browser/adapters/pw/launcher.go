// Package pw implements the browser ports on top of Playwright.
package pw

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/odvcencio/greenlight/pkg/browser"
)

// engineStrategy selects the Playwright browser type for one engine.
type engineStrategy func(*playwright.Playwright) playwright.BrowserType

var strategies = map[browser.Engine]engineStrategy{
	browser.EngineChromium: func(p *playwright.Playwright) playwright.BrowserType { return p.Chromium },
	browser.EngineFirefox:  func(p *playwright.Playwright) playwright.BrowserType { return p.Firefox },
	browser.EngineWebKit:   func(p *playwright.Playwright) playwright.BrowserType { return p.WebKit },
}

// Launcher starts Playwright-driven browsers. Every launched Browser owns its
// driver process and stops it on Close.
type Launcher struct {
	cfg Config
}

// NewLauncher creates a Playwright launcher.
func NewLauncher(cfg Config) (*Launcher, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Launcher{cfg: merged}, nil
}

// Launch starts the driver and the requested engine. The launch is abandoned
// when ctx ends or LaunchTimeout elapses; a browser that comes up afterwards
// is closed in the background.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if l == nil {
		return nil, browser.ErrUnavailable
	}
	strategy, ok := strategies[opts.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", browser.ErrUnknownEngine, opts.Engine)
	}
	if l.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.LaunchTimeout)
		defer cancel()
	}

	type result struct {
		browser *Browser
		err     error
	}
	done := make(chan result, 1)
	go func() {
		b, err := l.launch(strategy, opts)
		done <- result{browser: b, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.browser, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.browser != nil {
				_ = r.browser.Close(context.Background())
			}
		}()
		return nil, browser.WrapDriverError("launch", "launch abandoned", ctx.Err())
	}
}

func (l *Launcher) launch(strategy engineStrategy, opts browser.LaunchOptions) (*Browser, error) {
	runOpts := &playwright.RunOptions{
		DriverDirectory: l.cfg.DriverDirectory,
		Browsers:        []string{opts.Engine.String()},
	}
	if l.cfg.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, browser.WrapDriverError("install", "failed to install playwright driver", err)
		}
	}
	driver, err := playwright.Run(runOpts)
	if err != nil {
		return nil, browser.WrapDriverError("run", "failed to start playwright driver", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	pb, err := strategy(driver).Launch(launchOpts)
	if err != nil {
		_ = driver.Stop()
		return nil, browser.WrapDriverError("launch", "failed to launch "+opts.Engine.String(), mapError(err))
	}
	return &Browser{
		driver:  driver,
		browser: pb,
		engine:  opts.Engine,
		cfg:     l.cfg,
	}, nil
}

// mapError translates driver sentinels into browser package sentinels while
// keeping the original error in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %w", browser.ErrOperationTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %w", browser.ErrSessionClosed, err)
	default:
		return err
	}
}

// callWithContext runs fn and stops waiting for it when ctx ends.
func callWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
