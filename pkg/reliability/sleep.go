// Package reliability holds the bounded waiting and retrying primitives that
// step code wraps around browser interactions.
package reliability

import (
	"context"
	"time"
)

// SleepFunc blocks for delay or until ctx is done.
type SleepFunc func(ctx context.Context, delay time.Duration) error

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
