package main

import (
	"context"
	"errors"
	"time"
)

// ============================================================================
// Bounded Calls
// ============================================================================

// ErrCallExhausted is returned when every attempt of a bounded call timed out.
var ErrCallExhausted = errors.New("call timed out on every attempt")

const (
	DefaultCallAttempts = 3
	DefaultCallTimeout  = 1 * time.Second
)

// TryCallHanging invokes fn with a per-attempt deadline and retries when an
// attempt times out. It exists for calls into subsystems that can hang
// indefinitely (voice connection queries mid-reconnect, mostly). An attempt
// that returns in time settles the call immediately, error or not; only a
// timeout triggers another attempt. Abandoned attempts keep running until
// their context fires, their results are discarded.
func TryCallHanging[T any](ctx context.Context, attempts int, perAttempt time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	type outcome struct {
		val T
		err error
	}

	for i := 0; i < attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		done := make(chan outcome, 1)

		safeGo(func() {
			val, err := fn(attemptCtx)
			done <- outcome{val, err}
		})

		select {
		case out := <-done:
			cancel()
			// A cooperative fn may hand back its attempt deadline instead of
			// hanging; that is still a timeout, not a settled result.
			if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			return out.val, out.err
		case <-attemptCtx.Done():
			cancel()
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
		}
	}

	return zero, ErrCallExhausted
}
