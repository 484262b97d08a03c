// Package logging provides the structured component logger used across greenlight.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LevelTrace sits below debug and carries transient condition failures
// observed while polling.
const LevelTrace = slog.Level(-8)

// Format selects the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures a Logger.
type Options struct {
	Level  slog.Level
	Format Format
	Writer io.Writer
}

// Logger is a structured logger for greenlight components
type Logger struct {
	*slog.Logger
}

// New creates a new structured logger
func New(component string, opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "greenlight"),
	)
	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil || l.Logger == nil {
		return Nop()
	}
	return l
}

// OpenRunLog creates <baseDir>/runs/<runID>.jsonl and returns a logger that
// writes JSON to both the file and w. The returned func closes the file.
func OpenRunLog(component, baseDir, runID string, level slog.Level, w io.Writer) (*Logger, func() error, error) {
	runsDir := filepath.Join(baseDir, "runs")
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create runs log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runsDir, runID+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log: %w", err)
	}
	out := io.Writer(f)
	if w != nil {
		out = io.MultiWriter(w, f)
	}
	logger := New(component, Options{Level: level, Format: FormatJSON, Writer: out})
	return logger.WithRun(runID), f.Close, nil
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Trace logs at trace level.
func (l *Logger) Trace(msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

// With returns a logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRun returns a logger with run-specific fields
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("run_id", runID)),
	}
}

// WithUnit returns a logger with unit-specific fields
func (l *Logger) WithUnit(unitID, name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("unit_id", unitID),
			slog.String("unit", name),
		),
	}
}

// WithSession returns a logger with browser-session fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("browser_session_id", sessionID)),
	}
}

// BrowserLaunched logs a shared browser launch
func (l *Logger) BrowserLaunched(engine, version string, took time.Duration) {
	l.Info("browser launched",
		slog.String("engine", engine),
		slog.String("version", version),
		slog.Duration("took", took),
	)
}

// BrowserReleased logs shared browser teardown
func (l *Logger) BrowserReleased(engine string, err error) {
	if err != nil {
		l.Warn("browser release failed", slog.String("engine", engine), slog.Any("error", err))
		return
	}
	l.Info("browser released", slog.String("engine", engine))
}

// UnitStarted logs the start of an execution unit
func (l *Logger) UnitStarted(unitID, name string) {
	l.Info("unit started",
		slog.String("unit_id", unitID),
		slog.String("unit", name),
	)
}

// UnitFinished logs the end of an execution unit
func (l *Logger) UnitFinished(unitID, name, outcome string, took time.Duration, cause error) {
	attrs := []any{
		slog.String("unit_id", unitID),
		slog.String("unit", name),
		slog.String("outcome", outcome),
		slog.Duration("took", took),
	}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
		l.Error("unit finished", attrs...)
		return
	}
	l.Info("unit finished", attrs...)
}

// ArtifactCaptured logs a persisted diagnostic artifact
func (l *Logger) ArtifactCaptured(kind, path string) {
	l.Info("artifact captured",
		slog.String("kind", kind),
		slog.String("path", path),
	)
}

// CaptureFailed logs a diagnostic capture that could not complete. Capture
// failures are warnings: they never replace the unit's own failure.
func (l *Logger) CaptureFailed(kind, unit string, err error) {
	l.Warn("artifact capture failed",
		slog.String("kind", kind),
		slog.String("unit", unit),
		slog.Any("error", err),
	)
}
