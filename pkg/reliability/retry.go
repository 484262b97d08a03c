package reliability

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	// MaxBackoff caps a single backoff sleep. A base delay above it is used as is.
	MaxBackoff = time.Minute
)

// RetryPolicy implements exponential backoff for retrying failed operations.
// After failed attempt i (1-based) it sleeps BaseDelay * 2^(i-1), so the
// defaults wait 100ms then 200ms across three attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Values below one are treated as one.
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error deserves another attempt. Nil
	// retries everything except cancellation.
	Retryable func(error) bool
	Logger    *logging.Logger
	Sleep     SleepFunc
}

// RetryResult describes how an operation eventually completed.
type RetryResult struct {
	Attempts int
	// Recovered is true when the operation succeeded after at least one failure.
	Recovered bool
}

// DefaultRetryPolicy returns three attempts with a 100ms base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Backoff returns the delay slept after the given failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	limit := max(MaxBackoff, base)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > limit/2 {
			return limit
		}
		delay *= 2
	}
	return delay
}

// Do runs op until it succeeds or MaxAttempts is reached.
//
// Exhaustion returns a RETRY_EXHAUSTED error wrapping the last failure. An
// interrupted backoff sleep returns INTERRUPTED immediately; it is never
// treated as one more failed attempt.
func (p RetryPolicy) Do(ctx context.Context, description string, op func(context.Context) error) (RetryResult, error) {
	if op == nil {
		return RetryResult{}, errors.New(errors.ErrCodeInvalidInput, "retry operation is nil")
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	logger := logging.OrNop(p.Logger)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult{Attempts: attempt - 1}, errors.Interrupted(err, description)
		}

		logger.Debug("attempt",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("description", description),
		)
		err := op(ctx)
		if err == nil {
			result := RetryResult{Attempts: attempt, Recovered: attempt > 1}
			if result.Recovered {
				logger.Info("retry successful",
					slog.String("description", description),
					slog.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		lastErr = err
		if isFatal(err) {
			return RetryResult{Attempts: attempt}, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return RetryResult{Attempts: attempt}, err
		}
		logger.Warn("attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("description", description),
			slog.Any("error", err),
		)

		if attempt < maxAttempts {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return RetryResult{Attempts: attempt}, errors.Interrupted(err, description)
			}
		}
	}

	exhausted := errors.RetryExhausted(description, maxAttempts, lastErr)
	logger.Error(exhausted.Message, slog.Any("error", lastErr))
	return RetryResult{Attempts: maxAttempts}, exhausted
}

// Retry is the value-returning form of RetryPolicy.Do.
func Retry[T any](ctx context.Context, p RetryPolicy, description string, op func(context.Context) (T, error)) (T, RetryResult, error) {
	var value T
	result, err := p.Do(ctx, description, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, result, err
	}
	return value, result, nil
}

func isFatal(err error) bool {
	return errors.IsInterrupted(err) || stderrors.Is(err, context.Canceled)
}
