package process

import (
	"bytes"
	"context"
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
)

// compile-time assertions
var _ contract.Service = (*Adapter)(nil)

// Config configures a process adapter.
type Config struct {
	// Name identifies this adapter instance.
	Name string `yaml:"name,omitempty" mapstructure:"name"`
	// GracePeriod is the default grace period between SIGTERM and SIGKILL.
	GracePeriod time.Duration `yaml:"grace_period,omitempty" mapstructure:"grace_period"`
	// Timeout is the default execution timeout. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Adapter exposes a set of commands as an invokable service provider:
// each method maps to a command, the payload arrives on the child's
// stdin, and the child's stdout is the reply. It turns any well-behaved
// CLI tool into a registrable provider without writing a plugin.
type Adapter struct {
	config   Config
	commands map[string]Command
}

// NewAdapter creates a process adapter serving the given method-to-command
// table.
func NewAdapter(cfg Config, commands map[string]Command) *Adapter {
	return &Adapter{config: cfg, commands: commands}
}

// Run executes a command, applying adapter-level defaults.
func (a *Adapter) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.GracePeriod == 0 && a.config.GracePeriod > 0 {
		cmd.GracePeriod = a.config.GracePeriod
	}
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}
	return Run(ctx, cmd)
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return a.config.Name
}

// Invoke runs the command mapped to method with payload on its stdin and
// returns its stdout. Non-zero exits surface as unavailable errors
// carrying the exit code and trailing stderr.
func (a *Adapter) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	cmd, ok := a.commands[method]
	if !ok {
		return nil, errors.NotFound("method", method)
	}
	if len(payload) > 0 {
		cmd.Stdin = bytes.NewReader(payload)
	}
	if cmd.GracePeriod == 0 && a.config.GracePeriod > 0 {
		cmd.GracePeriod = a.config.GracePeriod
	}
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	result, err := Run(ctx, cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if ctxErr == context.DeadlineExceeded {
				return nil, errors.Timeout(a.config.Name + "." + method).WithCause(err)
			}
			return nil, errors.Canceled(a.config.Name + "." + method).WithCause(err)
		}
		appErr := errors.Unavailable(a.config.Name + "." + method).WithCause(err)
		if result != nil {
			appErr = appErr.WithDetail("exitCode", result.ExitCode)
			if trailer := result.LastStderr(); trailer != "" {
				appErr = appErr.WithDetail("stderr", trailer)
			}
		}
		return nil, appErr
	}
	return result.Stdout, nil
}
