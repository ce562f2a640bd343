package engine

import (
	"context"
	"time"
)

// Clock is the engine's source of time.
//
// Every deadline and poll interval goes through Clock so tests can drive
// the activation window without sleeping. Implemented by SystemClock
// (production) and testutil.FakeClock (tests).
type Clock interface {
	Now() time.Time

	// After fires once d has elapsed on this clock.
	After(d time.Duration) <-chan time.Time

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
