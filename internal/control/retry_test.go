package control

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryPolicy_Do_SucceedsWithoutRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Delay: time.Millisecond, Backoff: 2, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_Do_RetriesTransientThenSucceeds(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Delay: time.Millisecond, Backoff: 2, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_Do_NonTransientFailsImmediately(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Delay: time.Millisecond, Backoff: 2, Sleep: noSleep}
	calls := 0
	wantErr := ErrInvalidArgument
	err := p.Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on non-transient error)", calls)
	}
}

func TestRetryPolicy_Do_ExhaustsRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, Delay: time.Millisecond, Backoff: 2, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return ErrTransient
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after exhausting retries")
	}
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Do() = %v, want wrapped ErrTransient", err)
	}
	wantCalls := p.MaxRetries + 1
	if calls != wantCalls {
		t.Fatalf("calls = %d, want %d", calls, wantCalls)
	}
}

func TestRetryPolicy_Do_StopsOnContextCancel(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Delay: time.Millisecond, Backoff: 2, Sleep: noSleep}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, nil, "test", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return ErrTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_Do_SleepErrorPropagates(t *testing.T) {
	sleepErr := errors.New("sleep aborted")
	p := RetryPolicy{
		MaxRetries: 3, Delay: time.Millisecond, Backoff: 2,
		Sleep: func(ctx context.Context, d time.Duration) error { return sleepErr },
	}
	err := p.Do(context.Background(), nil, "test", func(ctx context.Context) error {
		return ErrTransient
	})
	if !errors.Is(err, sleepErr) {
		t.Fatalf("Do() = %v, want %v", err, sleepErr)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrTransient, true},
		{fmt.Errorf("wrapped: %w", ErrTransient), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("ECONNRESET: peer closed"), true},
		{errors.New("operation timeout exceeded"), true},
		{ErrInvalidArgument, false},
		{errors.New("out of range"), false},
	}
	for _, c := range cases {
		if got := isTransient(c.err); got != c.want {
			t.Errorf("isTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryPolicy_Deadline(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Delay: time.Second, Backoff: 2}
	// 1s + 2s + 4s = 7s across three waits between four attempts.
	want := 7 * time.Second
	if got := p.Deadline(); got != want {
		t.Fatalf("Deadline() = %v, want %v", got, want)
	}
}
