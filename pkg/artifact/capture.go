package artifact

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// Capturer snapshots failing units into a Layout. Every failure is reported
// as a DIAGNOSTIC_CAPTURE error; callers log it and keep the unit's own cause.
type Capturer struct {
	layout   Layout
	logger   *logging.Logger
	hub      *telemetry.Hub
	now      func() time.Time
	fullPage bool
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogger sets the capture logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Capturer) { c.logger = l }
}

// WithHub publishes capture events to hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(c *Capturer) { c.hub = hub }
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Capturer) { c.now = now }
}

// WithFullPage captures the whole scrollable page instead of the viewport.
func WithFullPage(fullPage bool) Option {
	return func(c *Capturer) { c.fullPage = fullPage }
}

// NewCapturer creates a capturer writing under layout.
func NewCapturer(layout Layout, opts ...Option) *Capturer {
	c := &Capturer{layout: layout, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// Layout returns the capturer's layout.
func (c *Capturer) Layout() Layout {
	return c.layout
}

// Capture screenshots sess and persists it as <unit>-<timestamp>.png. A nil
// or closed session fails fast without touching the driver.
func (c *Capturer) Capture(ctx context.Context, sess browser.Session, unit string) (*Artifact, error) {
	if sess == nil || sess.Closed() {
		return nil, c.failed(KindScreenshot, unit, errors.DiagnosticCapture(browser.ErrSessionClosed, "cannot screenshot a released session"))
	}
	data, err := sess.Screenshot(ctx, browser.ScreenshotOptions{FullPage: c.fullPage})
	if err != nil {
		return nil, c.failed(KindScreenshot, unit, errors.DiagnosticCapture(err, "screenshot failed"))
	}
	ts := c.now()
	path, err := c.layout.Write(KindScreenshot, unit, ts, data)
	if err != nil {
		return nil, c.failed(KindScreenshot, unit, errors.DiagnosticCapture(err, "failed to persist screenshot"))
	}
	return c.captured(&Artifact{Kind: KindScreenshot, Unit: unit, Timestamp: ts, Path: path, Size: int64(len(data))}), nil
}

// CaptureTrace stops tracing on sess and persists the archive under traces/.
func (c *Capturer) CaptureTrace(ctx context.Context, sess browser.Session, unit string) (*Artifact, error) {
	if sess == nil || sess.Closed() {
		return nil, c.failed(KindTrace, unit, errors.DiagnosticCapture(browser.ErrSessionClosed, "cannot stop tracing on a released session"))
	}
	ts := c.now()
	path, err := c.layout.Reserve(KindTrace, unit, ts)
	if err != nil {
		return nil, c.failed(KindTrace, unit, errors.DiagnosticCapture(err, "failed to reserve trace file"))
	}
	if err := sess.StopTrace(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, c.failed(KindTrace, unit, errors.DiagnosticCapture(err, "failed to save trace"))
	}
	return c.captured(&Artifact{Kind: KindTrace, Unit: unit, Timestamp: ts, Path: path, Size: fileSize(path)}), nil
}

// KeepVideo moves the recording of a closed session into videos/. It
// returns nil, nil when the session was not recording.
func (c *Capturer) KeepVideo(sess browser.Session, unit string) (*Artifact, error) {
	src, err := videoPath(sess)
	if err != nil || src == "" {
		return nil, err
	}
	ts := c.now()
	path, err := c.layout.Move(KindVideo, unit, ts, src)
	if err != nil {
		return nil, c.failed(KindVideo, unit, errors.DiagnosticCapture(err, "failed to keep video"))
	}
	return c.captured(&Artifact{Kind: KindVideo, Unit: unit, Timestamp: ts, Path: path, Size: fileSize(path)}), nil
}

// DiscardVideo deletes the recording of a closed session.
func (c *Capturer) DiscardVideo(sess browser.Session) error {
	src, err := videoPath(sess)
	if err != nil || src == "" {
		return err
	}
	if err := os.Remove(src); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return errors.DiagnosticCapture(err, "failed to discard video")
	}
	return nil
}

func videoPath(sess browser.Session) (string, error) {
	if sess == nil {
		return "", nil
	}
	src, err := sess.VideoPath()
	if stderrors.Is(err, browser.ErrNoVideo) {
		return "", nil
	}
	if err != nil {
		return "", errors.DiagnosticCapture(err, "video path unavailable")
	}
	return src, nil
}

func (c *Capturer) captured(a *Artifact) *Artifact {
	c.logger.ArtifactCaptured(string(a.Kind), a.Path)
	c.hub.Publish(telemetry.Event{
		Type:      telemetry.EventArtifactCaptured,
		Timestamp: a.Timestamp,
		Data: map[string]any{
			"kind": string(a.Kind),
			"unit": a.Unit,
			"path": a.Path,
			"size": a.Size,
		},
	})
	return a
}

func (c *Capturer) failed(kind Kind, unit string, err *errors.Error) error {
	err.WithContext("kind", string(kind)).WithContext("unit", unit)
	c.hub.Publish(telemetry.Event{
		Type: telemetry.EventCaptureFailed,
		Data: map[string]any{
			"kind":  string(kind),
			"unit":  unit,
			"error": err.Error(),
		},
	})
	return err
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
