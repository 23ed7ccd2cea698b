package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker position.
type State int

const (
	// StateClosed admits every invocation.
	StateClosed State = iota
	// StateOpen refuses every invocation.
	StateOpen
	// StateHalfOpen admits a bounded number of probe invocations.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned while the breaker refuses invocations.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in callbacks and logs.
	Name string
	// MaxFailures is how many consecutive failures open the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxCalls bounds in-flight probes, and is also how many probe
	// successes close the breaker again.
	HalfOpenMaxCalls int
	// OnStateChange fires on every transition, with the breaker lock held;
	// it must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// DefaultCircuitBreakerConfig returns defaults suited to provider
// invocations.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker fails provider invocations fast while a provider is
// unhealthy, so a broken plugin cannot drag every caller into its timeout.
// Closed admits everything and counts consecutive failures; MaxFailures of
// them open the breaker. Open refuses invocations until Timeout passes,
// then half-open admits up to HalfOpenMaxCalls probes: that many successes
// close the breaker, any failure reopens it.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker in the closed state. Non-positive
// limits fall back to the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{config: config}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen while
// invocations are refused and the caller's context error when ctx is
// already done. Cancellation reported by fn is not held against the
// provider.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

// State reports the breaker position, applying the open-to-half-open
// transition once the probe window arrives.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.position()
}

// Reset force-closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
}

// Failures reports the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// admit decides whether one invocation may proceed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.position() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.config.HalfOpenMaxCalls {
			cb.probes++
			return true
		}
	}
	return false
}

// position returns the state, moving open to half-open once the probe
// window arrives. Callers hold mu.
func (cb *CircuitBreaker) position() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.Timeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

// recordSuccess counts one success. Callers hold mu.
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.position() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMaxCalls {
			cb.transition(StateClosed)
		}
	}
}

// recordFailure counts one failure. Callers hold mu.
func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	switch cb.position() {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition moves to a new state, resetting the counters the new state
// starts from. Callers hold mu.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to

	cb.probes = 0
	cb.successes = 0
	switch to {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = time.Now()
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
