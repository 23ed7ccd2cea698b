package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/kbukum/plugkit/errors"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64
	// RetryIf determines if an error is retryable. Defaults to DefaultRetryIf.
	RetryIf func(error) bool
	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// DefaultRetryIf decides whether an invocation failure is worth another
// attempt. Cancellation, open circuits, and errors the taxonomy marks
// non-retryable (bad arguments, invalid state, missing providers,
// incompatible contracts) are terminal. Errors carrying an explicit
// retryable flag are honored; anything unclassified is retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeArgument, apperrors.ErrCodeState,
			apperrors.ErrCodeNotFound, apperrors.ErrCodeDuplicate,
			apperrors.ErrCodeCompatibility:
			return false
		}
		return appErr.Retryable
	}
	return true
}

// Retry runs fn up to MaxAttempts times, backing off between attempts.
// Non-positive config fields fall back to the defaults. It returns fn's
// first success, the first non-retryable error, or the last error once
// attempts are exhausted; context cancellation ends the loop with ctx.Err.
func Retry[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !config.RetryIf(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		backoff := backoffFor(attempt, config)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return zero, lastErr
}

// RetryFunc is Retry for operations with no result.
func RetryFunc(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := Retry(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// backoffFor computes the delay before the next attempt: exponential in the
// attempt number, jittered, capped at MaxBackoff.
func backoffFor(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffFactor, float64(attempt-1))

	if config.Jitter > 0 {
		backoff += backoff * config.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
