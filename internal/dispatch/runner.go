package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExecRunner runs sandbox-tool commands through a shell, streaming output
// to the operator console.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes command and blocks until it exits. A timeout of zero means
// no deadline. A deadline hit surfaces as a command failure.
func (r *ExecRunner) Run(ctx context.Context, command string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command timed out after %s", timeout)
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// StartDetached launches command in a new session with output redirected
// to logFile and returns without waiting. The process survives this
// program's exit; once started it is outside our control.
func (r *ExecRunner) StartDetached(command, logFile string) error {
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open worker log file: %w", err)
	}

	cmd := exec.Command("bash", "-c", command)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		f.Close()
		return fmt.Errorf("failed to start detached command: %w", err)
	}
	// The child holds its own copy of the log descriptor.
	f.Close()

	r.logger.Info("detached worker process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("log_file", logFile),
	)
	return cmd.Process.Release()
}
