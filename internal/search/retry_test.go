package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"mediastream/discoveryservice/internal/domain"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	attempts, err := RetryWithBackoff(context.Background(), DefaultRetryConfig(), func(int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected 1 call, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestRetryWithBackoff_SucceedsOnNthAttempt(t *testing.T) {
	var calls atomic.Int32
	seen := make([]int, 0, 3)
	attempts, err := RetryWithBackoff(context.Background(), fastRetry(3), func(attempt int) error {
		seen = append(seen, attempt)
		if calls.Add(1) < 3 {
			return fmt.Errorf("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("expected zero-based attempt numbers, got %v", seen)
	}
}

func TestRetryWithBackoff_ExhaustsAllAttempts(t *testing.T) {
	calls := 0
	attempts, err := RetryWithBackoff(context.Background(), fastRetry(3), func(int) error {
		calls++
		return fmt.Errorf("timeout")
	})
	if err == nil || err.Error() != "timeout" {
		t.Fatalf("expected last error 'timeout', got %v", err)
	}
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected 3 calls, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	_, err := RetryWithBackoff(ctx, cfg, func(int) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return fmt.Errorf("connection reset")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestRetryWithBackoff_MaxDelayCap(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     60 * time.Millisecond,
		Multiplier:   10.0,
	}

	var timestamps []time.Time
	_, _ = RetryWithBackoff(context.Background(), cfg, func(int) error {
		timestamps = append(timestamps, time.Now())
		return fmt.Errorf("timeout")
	})

	if len(timestamps) != 4 {
		t.Fatalf("expected 4 timestamps, got %d", len(timestamps))
	}
	for i := 2; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		maxAllowed := time.Duration(float64(cfg.MaxDelay) * 1.5)
		if gap > maxAllowed {
			t.Errorf("gap[%d] = %v exceeds max delay cap %v", i, gap, maxAllowed)
		}
	}
}

func TestRetryWithBackoff_PermanentErrorFailsImmediately(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), fastRetry(3), func(int) error {
		calls++
		return domain.PermanentError("tmdb", "invalid api key")
	})
	if !errors.Is(err, domain.ErrProviderPermanent) {
		t.Fatalf("expected permanent provider error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_RetriesTransientStatus(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), fastRetry(2), func(int) error {
		calls++
		return domain.StatusError("douban", 503, "busy")
	})
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("expected transient provider error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"reset", fmt.Errorf("read: connection reset by peer"), true},
		{"parse", fmt.Errorf("parse error: invalid JSON"), false},
		{"status 429", domain.StatusError("spotify", 429, "slow down"), true},
		{"status 404", domain.StatusError("spotify", 404, "missing"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClassifyErrorKeepsSource(t *testing.T) {
	err := classifyError("tmdb", fmt.Errorf("timeout awaiting headers"))
	if err.Source != "tmdb" || !err.Transient() {
		t.Fatalf("expected transient tmdb error, got %+v", err)
	}
	permanent := classifyError("tmdb", &domain.ProviderError{Class: domain.ClassPermanent, Message: "bad"})
	if permanent.Source != "tmdb" || permanent.Transient() {
		t.Fatalf("expected permanent error with source, got %+v", permanent)
	}
}
