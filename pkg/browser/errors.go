package browser

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("shared browser unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrConnectionLost   = errors.New("browser connection lost")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrUnknownEngine    = errors.New("unknown browser engine")
	ErrNoVideo          = errors.New("session is not recording video")
)

// DriverError wraps errors from the browser automation driver with the
// operation that produced them.
type DriverError struct {
	Op      string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver error [%s]: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("driver error [%s]: %s", e.Op, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new DriverError.
func NewDriverError(op, message string) *DriverError {
	return &DriverError{Op: op, Message: message}
}

// WrapDriverError wraps an existing error with driver context.
func WrapDriverError(op, message string, err error) *DriverError {
	return &DriverError{Op: op, Message: message, Err: err}
}

// IsConnectionError returns true if the error indicates the browser went away.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrUnavailable)
}

// IsRetryableError returns true if the error might succeed on retry. Closed
// sessions are never retryable: the handle will not come back.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, ErrSessionClosed) {
		return false
	}
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrOperationTimeout)
}
