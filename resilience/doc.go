// Package resilience guards provider invocations against slow or failing
// plugins.
//
// CircuitBreaker fails fast while a provider is unhealthy, Retry repeats
// failed attempts with exponential backoff, and Bulkhead and RateLimiter
// bound concurrency and admission rate. Executor composes them and is the
// surface the rest of the platform uses:
//
//	exec := resilience.NewExecutor(resilience.DefaultConfig("invoke"), log)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return provider.Invoke(ctx, method, payload)
//	})
//
// Failures come back classified through the error taxonomy: exhausted
// attempt deadlines as timeouts, caller cancellation as cancellation, and
// an open circuit as unavailable.
package resilience
