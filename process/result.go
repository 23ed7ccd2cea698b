package process

import (
	"strings"
	"time"
)

// Result carries the outcome of a finished one-shot command.
type Result struct {
	// Stdout is everything the child wrote to standard output.
	Stdout []byte
	// Stderr is everything the child wrote to standard error.
	Stderr []byte
	// ExitCode is the child's exit status, -1 when it was killed or never
	// started.
	ExitCode int
	// Duration measures start to exit.
	Duration time.Duration
}

// LastStderr returns the final non-empty stderr line, the part of a failure
// message most worth surfacing in an error.
func (r *Result) LastStderr() string {
	s := strings.TrimSpace(string(r.Stderr))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
