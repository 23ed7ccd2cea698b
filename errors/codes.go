package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Input errors (never retryable)
const (
	// ErrCodeArgument indicates a nil, blank, or otherwise invalid argument.
	ErrCodeArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeState indicates an operation that is invalid for the current lifecycle state.
	ErrCodeState ErrorCode = "INVALID_STATE"
)

// Resolution errors
const (
	// ErrCodeNotFound indicates no provider satisfied a selection request.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeDuplicate indicates an id that is already in use.
	ErrCodeDuplicate ErrorCode = "DUPLICATE"
)

// Compatibility errors
const (
	// ErrCodeCompatibility indicates a contract-version mismatch or a
	// type-identity violation across a module boundary.
	ErrCodeCompatibility ErrorCode = "INCOMPATIBLE"
)

// Invocation errors
const (
	// ErrCodeAggregate indicates one or more provider invocations failed.
	ErrCodeAggregate ErrorCode = "AGGREGATE_FAILURE"
	// ErrCodeTimeout indicates an invocation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeCanceled indicates an invocation was canceled by its caller.
	ErrCodeCanceled ErrorCode = "CANCELED"
	// ErrCodeUnavailable indicates a provider or module is temporarily unavailable.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:     true,
	ErrCodeUnavailable: true,
	ErrCodeAggregate:   false,
	ErrCodeArgument:    false,
	ErrCodeState:       false,
	ErrCodeCanceled:    false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
