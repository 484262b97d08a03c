package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Lifecycle errors
	ErrCodeInfrastructure    ErrorCode = "INFRASTRUCTURE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeInterrupted       ErrorCode = "INTERRUPTED"
	ErrCodeDiagnosticCapture ErrorCode = "DIAGNOSTIC_CAPTURE"

	// Test outcome errors
	ErrCodeAssertion ErrorCode = "ASSERTION"
	ErrCodeSkipped   ErrorCode = "SKIPPED"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured greenlight error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	Retryable   bool
	UserMessage string
	Remediation []string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Stack:     captureStack(2), // Skip New and caller
		Retryable: false,
	}
}

// Wrap wraps an existing error with greenlight error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
		Retryable:  false,
	}
}

// Infrastructure marks a resource acquisition or release failure. These abort
// the unit immediately and are never retried at the lifecycle layer.
func Infrastructure(err error, message string) *Error {
	if err == nil {
		return withStack(New(ErrCodeInfrastructure, message))
	}
	return withStack(Wrap(err, ErrCodeInfrastructure, message))
}

// Timeout reports a wait that never saw its condition become true.
func Timeout(description string, timeout time.Duration) *Error {
	e := New(ErrCodeTimeout, fmt.Sprintf("timeout waiting for: %s (timeout: %dms)", description, timeout.Milliseconds()))
	e.Stack = captureStack(2)
	return e.WithContext("timeout_ms", timeout.Milliseconds())
}

// RetryExhausted wraps the last error observed after every attempt failed.
func RetryExhausted(description string, attempts int, last error) *Error {
	e := &Error{
		Code:       ErrCodeRetryExhausted,
		Message:    fmt.Sprintf("failed to %s after %d attempts", description, attempts),
		Underlying: last,
		Context:    map[string]any{"attempts": attempts},
		Stack:      captureStack(2),
	}
	return e
}

// Interrupted reports a poll or backoff sleep cut short by cancellation.
func Interrupted(cause error, description string) *Error {
	return withStack(Wrap(cause, ErrCodeInterrupted, "interrupted: "+description))
}

// Assertion reports a test-logic failure.
func Assertion(message string) *Error {
	return withStack(New(ErrCodeAssertion, message))
}

// Assertionf formats an assertion failure message.
func Assertionf(format string, args ...any) *Error {
	return withStack(New(ErrCodeAssertion, fmt.Sprintf(format, args...)))
}

// DiagnosticCapture wraps a failed attempt to capture a diagnostic artifact.
func DiagnosticCapture(err error, message string) *Error {
	if err == nil {
		return withStack(New(ErrCodeDiagnosticCapture, message))
	}
	return withStack(Wrap(err, ErrCodeDiagnosticCapture, message))
}

// Skip marks a unit as intentionally skipped.
func Skip(reason string) *Error {
	return withStack(New(ErrCodeSkipped, reason))
}

func withStack(e *Error) *Error {
	if e != nil {
		e.Stack = captureStack(3)
	}
	return e
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the human-friendly message returned to users.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation appends actionable remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Context[k]))
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.String()))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

// String formats a stack frame
func (f Frame) String() string {
	return f.Function
}

// captureStack captures the current call stack
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

// As finds the first structured error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode checks whether any structured error in the chain has the code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	for err != nil {
		var target *Error
		if !stderrors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Underlying
	}
	return false
}

// GetCode extracts the outermost error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	target, ok := As(err)
	if !ok {
		return ErrCodeInternal
	}

	return target.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	target, ok := As(err)
	if !ok {
		return false
	}
	return target.Retryable
}

func IsTimeout(err error) bool        { return IsCode(err, ErrCodeTimeout) }
func IsInfrastructure(err error) bool { return IsCode(err, ErrCodeInfrastructure) }
func IsRetryExhausted(err error) bool { return IsCode(err, ErrCodeRetryExhausted) }
func IsInterrupted(err error) bool    { return IsCode(err, ErrCodeInterrupted) }
func IsAssertion(err error) bool      { return IsCode(err, ErrCodeAssertion) }
func IsSkip(err error) bool           { return IsCode(err, ErrCodeSkipped) }
func IsDiagnostic(err error) bool     { return IsCode(err, ErrCodeDiagnosticCapture) }
