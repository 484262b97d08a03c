package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
)

const (
	DefaultWaitTimeout  = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Condition reports whether the awaited state has been reached. A returned
// error means "not yet": the element may simply not exist yet.
type Condition func(ctx context.Context) (bool, error)

// WaitOptions bounds a WaitFor call.
type WaitOptions struct {
	// Timeout is the total budget. Zero or negative still evaluates the
	// condition once before failing.
	Timeout time.Duration
	// PollInterval is the pause between evaluations. Zero uses DefaultPollInterval.
	PollInterval time.Duration
	Logger       *logging.Logger
	Sleep        SleepFunc
}

// DefaultWaitOptions returns the standard 5s / 500ms wait.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Timeout:      DefaultWaitTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// WithTimeout returns a copy of o with a different timeout.
func (o WaitOptions) WithTimeout(timeout time.Duration) WaitOptions {
	o.Timeout = timeout
	return o
}

// WaitFor polls cond until it returns true or the timeout elapses.
//
// It returns immediately on the first true evaluation. When the budget is
// exhausted it returns a TIMEOUT error; elapsed time is in [Timeout,
// Timeout+PollInterval) because the last sleep is clipped to the deadline.
// Cancellation of ctx is an INTERRUPTED error, never a timeout.
func WaitFor(ctx context.Context, description string, cond Condition, opts WaitOptions) error {
	if cond == nil {
		return errors.New(errors.ErrCodeInvalidInput, "wait condition is nil")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	logger := logging.OrNop(opts.Logger)

	deadline := time.Now().Add(opts.Timeout)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Interrupted(err, description)
		}

		ok, err := evaluate(ctx, cond)
		if err != nil {
			logger.Trace("condition not yet met",
				slog.String("description", description),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		} else if ok {
			logger.Debug("wait condition met",
				slog.String("description", description),
				slog.Int("attempts", attempt),
			)
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := sleep(ctx, min(opts.PollInterval, remaining)); err != nil {
			return errors.Interrupted(err, description)
		}
	}

	timeoutErr := errors.Timeout(description, opts.Timeout)
	logger.Error(timeoutErr.Message)
	return timeoutErr
}

// evaluate runs cond, converting a panic into a not-yet-met error.
func evaluate(ctx context.Context, cond Condition) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()
	return cond(ctx)
}
