package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultCancelGrace is how long a cancelled worker gets between SIGTERM
// and SIGKILL.
const DefaultCancelGrace = 30 * time.Second

// Launcher runs a worker invocation to completion.
type Launcher interface {
	// Launch blocks until the child exits. onStart, if non-nil, receives the
	// child pid once it is running. A non-nil error means the child could
	// not be started or was interrupted; exitCode is -1 when unknown.
	Launch(ctx context.Context, inv Invocation, stdout, stderr io.Writer, onStart func(pid int)) (exitCode int, err error)
}

// ExecLauncher starts workers as OS child processes.
//
// When ctx is cancelled the child receives SIGTERM, then SIGKILL once Grace
// has elapsed.
type ExecLauncher struct {
	Grace time.Duration
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(ctx context.Context, inv Invocation, stdout, stderr io.Writer, onStart func(pid int)) (int, error) {
	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = l.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultCancelGrace
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start worker: %w", err)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return exitCodeOf(cmd, err), ctxErr
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return exitCodeOf(cmd, err), fmt.Errorf("wait worker: %w", err)
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
