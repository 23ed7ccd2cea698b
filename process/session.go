package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Session is a long-running subprocess with attached stdio pipes. Unlike
// Run, a session's lifetime is not bound to a context: it lives until the
// child exits or Stop is called.
//
// The caller owns the pipe ends: write requests to Stdin, read the child's
// output from Stdout and Stderr. Pipes reach EOF when the child exits.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	grace  time.Duration

	done    chan struct{}
	waitErr error
}

// Start launches a subprocess session. Command.Stdin is ignored; the
// session's stdin pipe replaces it.
func Start(cmd Command) (*Session, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}

	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec // dynamic args are the purpose of this package
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)

	// Children get their own process group so Stop reaches the whole tree.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}

	c.Stdin = stdinR
	c.Stdout = stdoutW
	c.Stderr = stderrW

	if err := c.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("process: start: %w", err)
	}

	// The child holds its own descriptor copies now; close ours so the
	// read ends see EOF when it exits.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	s := &Session{
		cmd:    c,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		grace:  cmd.grace(),
		done:   make(chan struct{}),
	}
	go func() {
		s.waitErr = c.Wait()
		close(s.done)
	}()
	return s, nil
}

// Stdin is the child's standard input. Closing it signals EOF to the child.
func (s *Session) Stdin() io.WriteCloser { return s.stdin }

// Stdout is the child's standard output.
func (s *Session) Stdout() io.Reader { return s.stdout }

// Stderr is the child's standard error.
func (s *Session) Stderr() io.Reader { return s.stderr }

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// Alive reports whether the child is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed once the child has been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the child's exit error. Valid only after Done is closed.
func (s *Session) Err() error { return s.waitErr }

// Stop terminates the child: SIGTERM to the process group, then SIGKILL
// after the grace period. It returns once the child is reaped or the
// context ends; in the latter case SIGKILL has been sent but the reap is
// left to the OS.
func (s *Session) Stop(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGTERM)

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
		return ctx.Err()
	case <-timer.C:
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
