package browser

import (
	"fmt"
	"strings"
	"time"
)

// Engine selects the browser implementation. The set is closed.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// Engines lists every supported engine.
func Engines() []Engine {
	return []Engine{EngineChromium, EngineFirefox, EngineWebKit}
}

// ParseEngine maps a configuration value to an Engine. Empty selects chromium.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chromium", "chrome":
		return EngineChromium, nil
	case "firefox":
		return EngineFirefox, nil
	case "webkit", "safari":
		return EngineWebKit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

func (e Engine) String() string {
	return string(e)
}

// Viewport defines the browser viewport size.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// LaunchOptions configures the shared browser process.
type LaunchOptions struct {
	Engine   Engine
	Headless bool
	SlowMo   time.Duration
}

// DefaultLaunchOptions returns a headless chromium launch.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{Engine: EngineChromium, Headless: true}
}

// SessionOptions configures a per-unit browsing context.
type SessionOptions struct {
	// ID is generated when empty.
	ID      string
	BaseURL string
	// Viewport zero values fall back to DefaultSessionOptions.
	Viewport Viewport
	// DefaultTimeout bounds every interaction on the page.
	DefaultTimeout time.Duration
	// VideoDir enables recording into a scratch directory when non-empty.
	VideoDir string
	Trace    bool
}

// DefaultSessionOptions returns the recommended session defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Viewport:       Viewport{Width: 1280, Height: 720},
		DefaultTimeout: 30 * time.Second,
	}
}

// Normalize fills unset fields from DefaultSessionOptions.
func (o SessionOptions) Normalize() SessionOptions {
	defaults := DefaultSessionOptions()
	if o.Viewport.Width <= 0 {
		o.Viewport.Width = defaults.Viewport.Width
	}
	if o.Viewport.Height <= 0 {
		o.Viewport.Height = defaults.Viewport.Height
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = defaults.DefaultTimeout
	}
	return o
}

// ScreenshotOptions tunes a screenshot capture.
type ScreenshotOptions struct {
	FullPage bool
}

// ScriptTag describes a script injected into the page. Exactly one field
// should be set.
type ScriptTag struct {
	URL     string
	Path    string
	Content string
}
