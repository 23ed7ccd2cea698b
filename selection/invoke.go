package selection

import (
	"context"
	"fmt"
	"reflect"

	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/registry"
)

// Executor guards a single provider call. resilience.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// ErrorPolicy controls how a fan-out invocation reacts to failures.
type ErrorPolicy int

const (
	// PolicyContinue invokes every provider and reports failures alongside
	// successes.
	PolicyContinue ErrorPolicy = iota
	// PolicyFailFast stops at the first failure; remaining providers are
	// not invoked.
	PolicyFailFast
)

// String returns the policy name.
func (p ErrorPolicy) String() string {
	switch p {
	case PolicyContinue:
		return "continue"
	case PolicyFailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// Outcome is the result of invoking one provider.
type Outcome struct {
	ProviderID string
	Err        error
}

// Report collects per-provider outcomes of one invocation, in invocation
// order.
type Report struct {
	Outcomes []Outcome
}

// Succeeded returns the number of successful invocations.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of failed invocations.
func (r Report) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Invoke selects providers for a contract and calls each in selection
// order, guarded by the selector's executor when one is configured.
//
// Under PolicyContinue every provider runs; the error is nil while at
// least one succeeds, and an aggregate of every failure when none do.
// Under PolicyFailFast the first failure stops the run and is returned;
// remaining providers are not invoked. The report always lists what
// actually ran.
func (s *Selector) Invoke(ctx context.Context, contractType reflect.Type, meta map[string]string, policy ErrorPolicy, call func(ctx context.Context, reg *registry.Registration) error) (Report, error) {
	if call == nil {
		return Report{}, apperrors.MissingArgument("call")
	}

	res, err := s.Select(ctx, contractType, meta)
	if err != nil {
		return Report{}, err
	}

	report := Report{Outcomes: make([]Outcome, 0, len(res.Providers))}
	var failures []error

	for _, reg := range res.Providers {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, apperrors.Canceled("fan-out invocation").WithCause(ctxErr)
		}

		op := func(ctx context.Context) error { return call(ctx, reg) }

		var callErr error
		if s.exec != nil {
			callErr = s.exec.Execute(ctx, op)
		} else {
			callErr = op(ctx)
		}

		report.Outcomes = append(report.Outcomes, Outcome{ProviderID: reg.ProviderID(), Err: callErr})
		if callErr == nil {
			continue
		}

		wrapped := fmt.Errorf("provider %s: %w", reg.ProviderID(), callErr)
		if policy == PolicyFailFast {
			s.rec.RecordException(ctx, wrapped)
			return report, apperrors.Aggregate("invocation stopped at first failure", wrapped)
		}
		failures = append(failures, wrapped)
	}

	for _, f := range failures {
		s.rec.RecordException(ctx, f)
	}
	if len(failures) == len(report.Outcomes) && len(failures) > 0 {
		return report, apperrors.Aggregate("all providers failed", failures...)
	}
	return report, nil
}
