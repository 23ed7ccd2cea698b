package process_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/plugkit/process"
)

func TestRunCapturesStdout(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "echo",
		Args:   []string{"provider", "output"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(string(result.Stdout)); got != "provider output" {
		t.Fatalf("stdout = %q, want %q", got, "provider output")
	}
}

func TestRunFeedsStdin(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "cat",
		Stdin:  strings.NewReader("payload bytes"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := string(result.Stdout); got != "payload bytes" {
		t.Fatalf("stdout = %q, want %q", got, "payload bytes")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "sh",
		Args:   []string{"-c", "exit 7"},
	})
	if err == nil {
		t.Fatal("want error for non-zero exit")
	}
	if result.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", result.ExitCode)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "sh",
		Args:   []string{"-c", "echo warming up >&2; echo out of disk >&2"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(string(result.Stderr), "warming up") {
		t.Fatalf("stderr = %q, missing first line", result.Stderr)
	}
	if got := result.LastStderr(); got != "out of disk" {
		t.Fatalf("LastStderr() = %q, want %q", got, "out of disk")
	}
}

func TestRunContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := process.Run(ctx, process.Command{
		Binary:      "sleep",
		Args:        []string{"10"},
		GracePeriod: 500 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("want error after context cancellation")
	}
	if result.Duration > 5*time.Second {
		t.Fatalf("child outlived cancellation by %v", result.Duration)
	}
}

func TestRunEmptyBinary(t *testing.T) {
	if _, err := process.Run(context.Background(), process.Command{}); err == nil {
		t.Fatal("want error for empty binary")
	}
}

func TestRunMissingBinary(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "plugkit-no-such-binary",
	})
	if err == nil {
		t.Fatal("want error for missing binary")
	}
	if result == nil {
		t.Fatal("want a result even when the binary never started")
	}
	if result.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", result.ExitCode)
	}
}

func TestRunMeasuresDuration(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "sleep",
		Args:   []string{"0.1"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Duration < 50*time.Millisecond {
		t.Fatalf("duration = %v, want at least 50ms", result.Duration)
	}
}

func TestRunExtraEnv(t *testing.T) {
	result, err := process.Run(context.Background(), process.Command{
		Binary: "sh",
		Args:   []string{"-c", "echo $PLUGKIT_RUN_CHECK"},
		Env:    []string{"PLUGKIT_RUN_CHECK=visible"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(string(result.Stdout)); got != "visible" {
		t.Fatalf("stdout = %q, want %q", got, "visible")
	}
}

func TestLastStderrEmpty(t *testing.T) {
	r := &process.Result{}
	if got := r.LastStderr(); got != "" {
		t.Fatalf("LastStderr() = %q, want empty", got)
	}
}
