package browser

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is used when a caller passes a non-positive interval.
const DefaultPollInterval = 100 * time.Millisecond

// Poll evaluates cond until it returns true, returns an error, or timeout
// elapses. A timeout yields ErrTimeout; cancellation of ctx yields ctx.Err().
func Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(waitCtx)
		if err != nil {
			// A driver call interrupted by our own deadline is a timeout, not a failure.
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Pause blocks for d or until ctx is done. Fixed settle delays are used where
// the application debounces work behind an interaction and exposes no signal.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
