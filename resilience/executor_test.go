package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/kbukum/plugkit/errors"
)

func fastConfig(name string) Config {
	return Config{
		Name: name,
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			BackoffFactor:  2.0,
		},
		Breaker: CircuitBreakerConfig{
			Name:        name,
			MaxFailures: 10,
			Timeout:     time.Hour,
		},
	}
}

func TestExecutor_Success(t *testing.T) {
	exec := NewExecutor(fastConfig("test"), nil)

	callCount := 0
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestExecutor_NilOp(t *testing.T) {
	exec := NewExecutor(fastConfig("test"), nil)

	err := exec.Execute(context.Background(), nil)
	if !apperrors.IsArgument(err) {
		t.Errorf("expected argument error, got %v", err)
	}
}

func TestExecutor_RetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(fastConfig("test"), nil)

	callCount := 0
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestExecutor_DoesNotRetryNotFound(t *testing.T) {
	exec := NewExecutor(fastConfig("test"), nil)

	callCount := 0
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return apperrors.NotFound("provider", "p1")
	})

	if !apperrors.IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestExecutor_AttemptTimeoutIsRetriedAndClassified(t *testing.T) {
	config := fastConfig("slow-op")
	config.InvokeTimeout = 15 * time.Millisecond
	config.Retry.MaxAttempts = 2
	exec := NewExecutor(config, nil)

	callCount := 0
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		<-ctx.Done()
		return ctx.Err()
	})

	if !apperrors.HasCode(err, apperrors.ErrCodeTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	// The per-attempt deadline must not read as caller cancellation, so
	// both attempts run.
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("timeout error should not wrap the attempt's context error")
	}
}

func TestExecutor_CallerCancellationClassified(t *testing.T) {
	exec := NewExecutor(fastConfig("test"), nil)

	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	errCh := exec.ExecuteAsync(ctx, func(ctx context.Context) error {
		callCount++
		<-ctx.Done()
		return ctx.Err()
	})

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-errCh
	if !apperrors.HasCode(err, apperrors.ErrCodeCanceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cancellation error should wrap context.Canceled")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if exec.State() != StateClosed {
		t.Errorf("cancellation should not trip the breaker, state is %s", exec.State())
	}
}

func TestExecutor_OpenBreakerClassifiedUnavailable(t *testing.T) {
	config := fastConfig("test")
	config.Breaker.MaxFailures = 1
	exec := NewExecutor(config, nil)

	callCount := 0
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return errors.New("boom")
	})

	// First attempt trips the breaker; the retry hits the open circuit.
	if !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("unavailable error should wrap ErrCircuitOpen")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if exec.State() != StateOpen {
		t.Errorf("expected StateOpen, got %s", exec.State())
	}

	// Subsequent executions fail fast without invoking the operation.
	err = exec.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("operation should not have been called")
		return nil
	})
	if !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Errorf("expected unavailable error, got %v", err)
	}

	exec.Reset()
	if exec.State() != StateClosed {
		t.Errorf("expected StateClosed after reset, got %s", exec.State())
	}
}

func TestExecutor_BulkheadFullClassifiedUnavailable(t *testing.T) {
	config := fastConfig("test")
	config.Bulkhead = BulkheadConfig{MaxConcurrent: 1}
	exec := NewExecutor(config, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	errCh := exec.ExecuteAsync(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	<-started
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("operation should not have been called")
		return nil
	})
	if !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !errors.Is(err, ErrBulkheadFull) {
		t.Error("unavailable error should wrap ErrBulkheadFull")
	}
	if exec.State() != StateClosed {
		t.Errorf("bulkhead rejection should not trip the breaker, state is %s", exec.State())
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Errorf("expected held execution to succeed, got %v", err)
	}
}

func TestExecutor_RateLimitClassifiedUnavailable(t *testing.T) {
	config := fastConfig("test")
	config.Limiter = RateLimiterConfig{Rate: 0.001, Burst: 1}
	exec := NewExecutor(config, nil)

	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("first execution should pass, got %v", err)
	}

	err = exec.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("operation should not have been called")
		return nil
	})
	if !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("unavailable error should wrap ErrRateLimited")
	}
}

func TestExecutor_ExecuteAsyncDeliversResult(t *testing.T) {
	exec := NewExecutor(fastConfig("test"), nil)

	errCh := exec.ExecuteAsync(context.Background(), func(ctx context.Context) error {
		return nil
	})

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async result")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("invoker")

	if config.Name != "invoker" {
		t.Errorf("expected name 'invoker', got %s", config.Name)
	}
	if config.InvokeTimeout != 30*time.Second {
		t.Errorf("expected 30s invoke timeout, got %v", config.InvokeTimeout)
	}
	if config.Retry.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", config.Retry.MaxAttempts)
	}
	if config.Breaker.MaxFailures != 5 {
		t.Errorf("expected 5 max failures, got %d", config.Breaker.MaxFailures)
	}
}
