package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryCallHangingReturnsFirstResult(t *testing.T) {
	got, err := TryCallHanging(context.Background(), 3, time.Second, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if got != 7 {
		t.Errorf("got = %d, want 7", got)
	}
}

func TestTryCallHangingErrorSettlesImmediately(t *testing.T) {
	var calls atomic.Int32
	wantErr := errors.New("hard failure")

	_, err := TryCallHanging(context.Background(), 3, time.Second, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (errors must not be retried)", got)
	}
}

func TestTryCallHangingExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32

	_, err := TryCallHanging(context.Background(), 3, 10*time.Millisecond, func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrCallExhausted) {
		t.Fatalf("err = %v, want ErrCallExhausted", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want exactly 3", got)
	}
}

func TestTryCallHangingRetriesDeadlineErrors(t *testing.T) {
	var calls atomic.Int32

	got, err := TryCallHanging(context.Background(), 3, time.Second, func(ctx context.Context) (int, error) {
		if calls.Add(1) < 3 {
			return 0, context.DeadlineExceeded
		}
		return 9, nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if got != 9 {
		t.Errorf("got = %d, want 9", got)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3 (deadline errors count as timeouts)", n)
	}
}

func TestTryCallHangingLaterAttemptSucceeds(t *testing.T) {
	var calls atomic.Int32

	got, err := TryCallHanging(context.Background(), 3, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		if calls.Add(1) < 3 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if got != 42 {
		t.Errorf("got = %d, want 42", got)
	}
}

func TestTryCallHangingParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TryCallHanging(ctx, 3, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
