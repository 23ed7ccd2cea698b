package process

import (
	"io"
	"time"
)

// DefaultGrace is the SIGTERM-to-SIGKILL escalation delay applied when a
// command does not set one.
const DefaultGrace = 5 * time.Second

// Command describes one subprocess: a plugin module binary, or a CLI tool
// exposed as a provider through Adapter.
type Command struct {
	// Binary is the executable, a path or a name resolved via PATH.
	Binary string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory; empty inherits the caller's.
	Dir string
	// Env lists extra variables (key=value) appended to os.Environ.
	Env []string
	// Stdin feeds the child's standard input. Run only; Session replaces
	// it with a pipe.
	Stdin io.Reader
	// GracePeriod is how long the child gets between SIGTERM and SIGKILL.
	// Zero means DefaultGrace.
	GracePeriod time.Duration
}

// grace returns the effective escalation delay.
func (c Command) grace() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return DefaultGrace
}
