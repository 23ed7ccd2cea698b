package process

import (
	"context"

	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/resilience"
)

// Runner wraps subprocess execution with persistent resilience state.
// Use NewRunner to create one, then call Run repeatedly. The circuit breaker
// state persists across calls, so repeated crashes trip the breaker.
type Runner struct {
	executor *resilience.Executor
}

// NewRunner creates a Runner with the given resilience config. A nil log
// discards the executor's retry and breaker diagnostics.
func NewRunner(cfg resilience.Config, log *logger.Logger) *Runner {
	return &Runner{executor: resilience.NewExecutor(cfg, log)}
}

// Run executes a subprocess through the resilience chain. The result of
// the last attempt is returned alongside any classified error, so exit
// codes and captured output stay observable on failure.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	var result *Result
	err := r.executor.Execute(ctx, func(ctx context.Context) error {
		res, runErr := Run(ctx, cmd)
		result = res
		return runErr
	})
	return result, err
}

// State reports the runner's breaker state.
func (r *Runner) State() resilience.State {
	return r.executor.State()
}
