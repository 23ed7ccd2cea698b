// Package errors provides unified error handling for the plugin platform.
// It implements structured error types with machine-readable codes and
// retryable detection, so callers can branch on failure class without
// string matching.
package errors
