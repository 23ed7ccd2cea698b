package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/kbukum/plugkit/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  1.0,
	}
}

func TestRetryFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result != "ok" || calls != 1 {
		t.Fatalf("result = %q after %d calls, want ok after 1", result, calls)
	}
}

func TestRetryRecoversWithinBudget(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", apperrors.Unavailable("provider")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Fatalf("result = %q after %d calls, want ok after 3", result, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("persistent")
	_, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the last attempt's error", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Retry(ctx, RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 100 * time.Millisecond,
		BackoffFactor:  2.0,
	}, func() (string, error) {
		calls++
		return "", errors.New("flaky")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if calls >= 10 {
		t.Fatalf("calls = %d, context should have cut the loop short", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(5), func() (string, error) {
		calls++
		return "", apperrors.NotFound("provider", "p1")
	})
	if !apperrors.IsNotFound(err) {
		t.Fatalf("err = %v, want the not-found error unchanged", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, non-retryable failure should not repeat", calls)
	}
}

func TestRetryCustomFilter(t *testing.T) {
	transient := errors.New("transient")
	config := fastRetry(3)
	config.RetryIf = func(err error) bool { return errors.Is(err, transient) }

	calls := 0
	_, _ = Retry(context.Background(), config, func() (string, error) {
		calls++
		return "", transient
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 for the filtered error", calls)
	}

	calls = 0
	other := errors.New("other")
	_, err := Retry(context.Background(), config, func() (string, error) {
		calls++
		return "", other
	})
	if calls != 1 || !errors.Is(err, other) {
		t.Fatalf("calls = %d err = %v, unfiltered error should stop immediately", calls, err)
	}
}

func TestRetryOnRetryCallback(t *testing.T) {
	var attempts []int
	config := fastRetry(3)
	config.OnRetry = func(attempt int, err error, backoff time.Duration) {
		attempts = append(attempts, attempt)
	}

	_, _ = Retry(context.Background(), config, func() (string, error) {
		return "", errors.New("flaky")
	})

	// Fires before each retry, never before the first attempt.
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("attempts = %v, want [1 2]", attempts)
	}
}

func TestRetryFunc(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), true},
		{"canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"circuit open", ErrCircuitOpen, false},
		{"invalid argument", apperrors.InvalidArgument("id", "blank"), false},
		{"invalid state", apperrors.InvalidState("plugin", "unloaded", "activate"), false},
		{"not found", apperrors.NotFound("provider", "p1"), false},
		{"incompatible", apperrors.Incompatible("2.0.0", "1.0.0"), false},
		{"timeout", apperrors.Timeout("invoke"), true},
		{"unavailable", apperrors.Unavailable("provider"), true},
		{"internal", apperrors.Internal(errors.New("boom")), false},
		{"wrapped not found", fmt.Errorf("selecting: %w", apperrors.NotFound("provider", "")), false},
	}

	for _, tt := range tests {
		if got := DefaultRetryIf(tt.err); got != tt.want {
			t.Errorf("%s: DefaultRetryIf() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBackoffGrowth(t *testing.T) {
	config := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{6, time.Second},
	}
	for _, tc := range cases {
		if got := backoffFor(tc.attempt, config); got != tc.want {
			t.Errorf("attempt %d: backoff = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	config := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Minute,
		BackoffFactor:  1.0,
		Jitter:         0.5,
	}
	for i := 0; i < 50; i++ {
		got := backoffFor(1, config)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("backoff = %v, outside the 50 percent jitter band", got)
		}
	}
}
