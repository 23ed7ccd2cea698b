// Package errors provides unified error handling for the plugin platform.
// It implements structured error types with machine-readable codes and
// retryable detection, so callers can branch on failure class without
// string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError is the unified platform error type.
type AppError struct {
	// Code classifies the failure for machine consumption.
	Code ErrorCode `json:"code"`
	// Message describes the failure for humans.
	Message string `json:"message"`
	// Retryable reports whether retrying the operation can succeed.
	Retryable bool `json:"retryable"`
	// Details carries structured context, keyed per failure site.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the wrapped underlying error, if any.
	Cause error `json:"-"`
	// Errs holds the individual failures of an aggregate error.
	Errs []error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if len(e.Errs) > 0 {
		parts := make([]string, len(e.Errs))
		for i, err := range e.Errs {
			parts[i] = err.Error()
		}
		return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(parts, "; "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, or the individual failures of an
// aggregate error, for use with errors.Is and errors.As.
func (e *AppError) Unwrap() []error {
	if len(e.Errs) > 0 {
		return e.Errs
	}
	if e.Cause != nil {
		return []error{e.Cause}
	}
	return nil
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// CodeOf returns the error code carried by err, or ErrCodeInternal if err
// is not an AppError.
func CodeOf(err error) ErrorCode {
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code == code
	}
	return false
}

// IsArgument reports whether err is an argument error.
func IsArgument(err error) bool { return HasCode(err, ErrCodeArgument) }

// IsState reports whether err is a lifecycle-state error.
func IsState(err error) bool { return HasCode(err, ErrCodeState) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsDuplicate reports whether err is a duplicate-id error.
func IsDuplicate(err error) bool { return HasCode(err, ErrCodeDuplicate) }

// IsCompatibility reports whether err is a compatibility error.
func IsCompatibility(err error) bool { return HasCode(err, ErrCodeCompatibility) }

// IsAggregate reports whether err is an aggregate invocation failure.
func IsAggregate(err error) bool { return HasCode(err, ErrCodeAggregate) }

// IsRetryable reports whether err is marked retryable. Context cancellation
// and deadline expiry are never retryable.
func IsRetryable(err error) bool {
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Retryable
	}
	return false
}

// --- Common Error Constructors ---

// InvalidArgument creates a new AppError for an invalid argument.
func InvalidArgument(arg, reason string) *AppError {
	details := make(map[string]any)
	if arg != "" {
		details["argument"] = arg
	}
	return &AppError{
		Code: ErrCodeArgument, Message: fmt.Sprintf("invalid argument: %s", reason),
		Retryable: false, Details: details,
	}
}

// MissingArgument creates a new AppError for a nil or blank required argument.
func MissingArgument(arg string) *AppError {
	return &AppError{
		Code: ErrCodeArgument, Message: fmt.Sprintf("missing required argument: %s", arg),
		Retryable: false,
		Details:   map[string]any{"argument": arg},
	}
}

// Validation creates a new AppError for failed input validation.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeArgument, Message: message,
		Retryable: false,
	}
}

// InvalidState creates a new AppError for an operation that is not valid in
// the subject's current lifecycle state.
func InvalidState(subject, state, operation string) *AppError {
	return &AppError{
		Code: ErrCodeState, Message: fmt.Sprintf("%s cannot %s in state %s", subject, operation, state),
		Retryable: false,
		Details:   map[string]any{"subject": subject, "state": state, "operation": operation},
	}
}

// NotFound creates a new AppError for a selection or lookup that matched nothing.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("no %s found", resource),
		Retryable: false, Details: details,
	}
}

// Duplicate creates a new AppError for an id that is already in use.
func Duplicate(resource, id string) *AppError {
	return &AppError{
		Code: ErrCodeDuplicate, Message: fmt.Sprintf("%s %q is already registered", resource, id),
		Retryable: false,
		Details:   map[string]any{"resource": resource, "id": id},
	}
}

// Incompatible creates a new AppError for a contract-version mismatch.
func Incompatible(declared, current string) *AppError {
	return &AppError{
		Code: ErrCodeCompatibility, Message: fmt.Sprintf("contract version %q does not match platform version %q", declared, current),
		Retryable: false,
		Details:   map[string]any{"declared": declared, "current": current},
	}
}

// TypeIdentity creates a new AppError for a type that does not resolve to
// the host's shared namespace.
func TypeIdentity(typeName string) *AppError {
	return &AppError{
		Code: ErrCodeCompatibility, Message: fmt.Sprintf("type %q does not resolve to a shared contract", typeName),
		Retryable: false,
		Details:   map[string]any{"type": typeName},
	}
}

// Aggregate creates a new AppError bundling individual provider failures.
func Aggregate(message string, errs ...error) *AppError {
	return &AppError{
		Code: ErrCodeAggregate, Message: message,
		Retryable: false, Errs: errs,
	}
}

// Timeout creates a new AppError for an invocation that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		Retryable: true,
		Details:   map[string]any{"operation": operation},
	}
}

// Canceled creates a new AppError for an invocation canceled by its caller.
func Canceled(operation string) *AppError {
	return &AppError{
		Code: ErrCodeCanceled, Message: fmt.Sprintf("%s canceled", operation),
		Retryable: false,
		Details:   map[string]any{"operation": operation},
	}
}

// Unavailable creates a new AppError for a provider or module that is
// temporarily unavailable.
func Unavailable(resource string) *AppError {
	return &AppError{
		Code: ErrCodeUnavailable, Message: fmt.Sprintf("%s is temporarily unavailable", resource),
		Retryable: true,
		Details:   map[string]any{"resource": resource},
	}
}

// Internal creates a new AppError for an unexpected internal failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		Retryable: false, Cause: cause,
	}
}
