package httpclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), func() error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("connection reset"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := NewPermanentError(errors.New("bad credentials"))
	err := Retry(context.Background(), fastPolicy(), func() error {
		calls++
		return permanent
	})

	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), func() error {
		calls++
		return NewTransientError(errors.New("still down"))
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 4 {
		t.Errorf("expected 1 initial + 3 retries = 4 calls, got %d", calls)
	}
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:     1,
		InitialBackoff: time.Hour, // would hang the test if the hint is ignored
		MaxBackoff:     time.Hour,
		BackoffFactor:  2.0,
	}

	calls := 0
	start := time.Now()
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls == 1 {
			return NewTransientErrorWithDelay(errors.New("rate limited"), 10*time.Millisecond)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry waited %v, hint of 10ms was ignored", elapsed)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, RetryPolicy{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffFactor: 2.0}, func() error {
		calls++
		cancel()
		return NewTransientError(errors.New("down"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{10, time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			got := calculateBackoff(policy, tt.attempt)
			if got != tt.want {
				t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoffJitterStaysBounded(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}

	for i := 0; i < 100; i++ {
		got := calculateBackoff(policy, 1)
		if got < 200*time.Millisecond || got > 220*time.Millisecond {
			t.Fatalf("jittered backoff %v outside [200ms, 220ms]", got)
		}
	}
}
