package engine

import (
	"context"
	"time"
)

// withDeadline runs fn against a deadline measured on clock.
//
// fn runs on its own goroutine with a context that is cancelled when the
// deadline elapses, so a relay request in flight is abandoned. If the
// deadline wins the race, withDeadline returns a *TimeoutError without
// waiting for fn. Cancellation of the parent context is returned as is.
// A non-positive d disables the deadline.
func withDeadline[T any](ctx context.Context, clock Clock, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-clock.After(d):
		return zero, &TimeoutError{Op: op, After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
