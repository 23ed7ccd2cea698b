package aspect

import "context"

// Recorder receives method-boundary and operation signals from the core.
// The platform treats it as opaque: every call site tolerates a recorder
// that does nothing, and Noop() is the default everywhere.
type Recorder interface {
	// EnterMethod marks entry into component.method and returns the
	// context to thread through the call.
	EnterMethod(ctx context.Context, component, method string) context.Context
	// ExitMethod marks the end of component.method with its outcome.
	ExitMethod(ctx context.Context, component, method string, err error)
	// RecordException records a failure that did not necessarily abort the
	// surrounding method.
	RecordException(ctx context.Context, err error)
	// RecordMetric records a named measurement with optional attributes.
	RecordMetric(ctx context.Context, name string, value float64, attrs map[string]string)
	// StartOperation opens a named operation; the returned function closes
	// it with the operation's outcome.
	StartOperation(ctx context.Context, name string) (context.Context, func(error))
}

type noopRecorder struct{}

// Noop returns a Recorder that ignores every signal.
func Noop() Recorder { return noopRecorder{} }

func (noopRecorder) EnterMethod(ctx context.Context, _, _ string) context.Context { return ctx }

func (noopRecorder) ExitMethod(context.Context, string, string, error) {}

func (noopRecorder) RecordException(context.Context, error) {}

func (noopRecorder) RecordMetric(context.Context, string, float64, map[string]string) {}

func (noopRecorder) StartOperation(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// OrNoop returns rec unless it is nil.
func OrNoop(rec Recorder) Recorder {
	if rec == nil {
		return Noop()
	}
	return rec
}
