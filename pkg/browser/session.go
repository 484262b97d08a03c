package browser

import "context"

// Launcher starts the shared browser process for one engine.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is the shared, expensive browser process. It is created once per
// suite and lent to every unit.
type Browser interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Connected() bool
	Version() string
	Close(ctx context.Context) error
}

// Session is an isolated browsing context plus its page. It is owned by
// exactly one unit and must be closed when that unit ends.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	URL() string
	Evaluate(ctx context.Context, expression string, arg any) (any, error)
	InjectScript(ctx context.Context, script ScriptTag) error
	PressKey(ctx context.Context, key string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	// StopTrace writes the recorded trace to path. It returns ErrSessionClosed
	// once the context is gone.
	StopTrace(ctx context.Context, path string) error
	// VideoPath is only final after Close; it returns ErrNoVideo when the
	// session was not recording.
	VideoPath() (string, error)
	Closed() bool
	Close(ctx context.Context) error
}
