package resilience

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
)

// Config configures an Executor.
type Config struct {
	// Name identifies the executor in logs and breaker callbacks.
	Name string
	// InvokeTimeout bounds a single attempt. Zero disables the per-attempt
	// deadline.
	InvokeTimeout time.Duration
	// Retry configures the retry loop around attempts.
	Retry RetryConfig
	// Breaker configures the circuit breaker guarding attempts.
	Breaker CircuitBreakerConfig
	// Bulkhead caps concurrent executions. A zero MaxConcurrent disables it.
	Bulkhead BulkheadConfig
	// Limiter throttles execution starts. A zero Rate disables it.
	Limiter RateLimiterConfig
}

// DefaultConfig returns executor defaults suitable for provider invocations.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		InvokeTimeout: 30 * time.Second,
		Retry:         DefaultRetryConfig(),
		Breaker:       DefaultCircuitBreakerConfig(name),
	}
}

// Executor runs operations under a per-attempt deadline, a retry policy,
// and a circuit breaker, optionally behind a concurrency bulkhead and a
// rate limiter. Failures come back classified: an exhausted deadline maps
// to a timeout error, caller cancellation to a cancellation error, and an
// open circuit, full bulkhead, or exceeded rate limit to an unavailable
// error.
type Executor struct {
	config   Config
	breaker  *CircuitBreaker
	bulkhead *Bulkhead
	limiter  *RateLimiter
	log      *logger.Logger
}

// NewExecutor creates an executor. A nil log discards output.
func NewExecutor(config Config, log *logger.Logger) *Executor {
	if config.Name == "" {
		config.Name = "executor"
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("resilience")

	if config.Breaker.Name == "" {
		config.Breaker.Name = config.Name
	}
	if config.Breaker.OnStateChange == nil {
		config.Breaker.OnStateChange = func(name string, from, to State) {
			log.Warn("circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		}
	}
	if config.Retry.OnRetry == nil {
		config.Retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
			log.Debug("retrying operation", map[string]interface{}{
				"operation": config.Name,
				"attempt":   attempt,
				"backoff":   backoff.String(),
				"error":     err.Error(),
			})
		}
	}

	var bulkhead *Bulkhead
	if config.Bulkhead.MaxConcurrent > 0 {
		if config.Bulkhead.Name == "" {
			config.Bulkhead.Name = config.Name
		}
		if config.Bulkhead.OnReject == nil {
			config.Bulkhead.OnReject = func(name string) {
				log.Warn("bulkhead rejected execution", map[string]interface{}{
					"bulkhead": name,
				})
			}
		}
		bulkhead = NewBulkhead(config.Bulkhead)
	}

	var limiter *RateLimiter
	if config.Limiter.Rate > 0 {
		if config.Limiter.Name == "" {
			config.Limiter.Name = config.Name
		}
		if config.Limiter.OnLimit == nil {
			config.Limiter.OnLimit = func(name string) {
				log.Debug("rate limit reached", map[string]interface{}{
					"limiter": name,
				})
			}
		}
		limiter = NewRateLimiter(config.Limiter)
	}

	return &Executor{
		config:   config,
		breaker:  NewCircuitBreaker(config.Breaker),
		bulkhead: bulkhead,
		limiter:  limiter,
		log:      log,
	}
}

// Execute runs op through the breaker and retry policy. When a rate
// limiter or bulkhead is configured, admission happens once per call, not
// per retry attempt. The returned error is nil on success; otherwise it
// is the operation's own error or a classified timeout, cancellation, or
// unavailable error.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	if op == nil {
		return apperrors.MissingArgument("op")
	}

	run := func() error {
		return RetryFunc(ctx, e.config.Retry, func() error {
			return e.breaker.Execute(ctx, e.attempt(op))
		})
	}

	var err error
	switch {
	case e.limiter != nil && !e.limiter.Allow():
		err = ErrRateLimited
	case e.bulkhead != nil:
		err = e.bulkhead.Execute(ctx, run)
	default:
		err = run()
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrBulkheadFull),
		errors.Is(err, ErrBulkheadTimeout),
		errors.Is(err, ErrRateLimited):
		return apperrors.Unavailable(e.config.Name).WithCause(err)
	case errors.Is(err, context.Canceled):
		return apperrors.Canceled(e.config.Name).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout(e.config.Name).WithCause(err)
	}
	return err
}

// ExecuteAsync runs op as Execute does and delivers the result on the
// returned channel. The channel is buffered; the result is never dropped.
func (e *Executor) ExecuteAsync(ctx context.Context, op func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx, op)
		close(done)
	}()
	return done
}

// State reports the breaker state.
func (e *Executor) State() State {
	return e.breaker.State()
}

// Reset closes the breaker and clears its counters.
func (e *Executor) Reset() {
	e.breaker.Reset()
}

// attempt wraps op with the per-attempt deadline. A deadline that expires
// while the caller's context is still live surfaces as a timeout error with
// no context error in its chain, so the retry policy treats it as
// retryable rather than as caller cancellation.
func (e *Executor) attempt(op func(context.Context) error) func(context.Context) error {
	if e.config.InvokeTimeout <= 0 {
		return op
	}
	return func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.InvokeTimeout)
		defer cancel()

		err := op(attemptCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return apperrors.Timeout(e.config.Name)
		}
		return err
	}
}
