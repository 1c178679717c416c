// Package runner invokes the external wandb CLI to sync one run directory.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pierreadorni/wandb-offline-sync-hook/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr kept from a failed sync.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// TimeoutError reports a sync that exceeded its configured timeout. It is
// the only failure the scheduling layer treats specially (requeue).
type TimeoutError struct {
	Dir     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wandb sync of %s timed out after %v", e.Dir, e.Timeout)
}

// Runner executes one sync job against one run directory. Run blocks until
// the job finishes; a timeout is reported as *TimeoutError.
type Runner interface {
	Run(ctx context.Context, dir string) error
}

// WandbRunner shells out to `wandb sync`.
type WandbRunner struct {
	options []string
	timeout time.Duration
	dryRun  bool
	logger  *slog.Logger
}

// New builds a WandbRunner. options are forwarded verbatim to wandb sync;
// timeout <= 0 means no bound; dryRun logs the invocation instead of
// performing it.
func New(options []string, timeout time.Duration, dryRun bool) *WandbRunner {
	return &WandbRunner{
		options: options,
		timeout: timeout,
		dryRun:  dryRun,
		logger:  log.WithComponent("runner"),
	}
}

// Run executes `wandb sync <options...> .` with dir as working directory.
func (r *WandbRunner) Run(ctx context.Context, dir string) error {
	argv := append([]string{"sync"}, r.options...)
	argv = append(argv, ".")

	if r.dryRun {
		r.logger.Info("dry run enabled, not calling wandb",
			"command", "wandb "+strings.Join(argv, " "), "dir", dir)
		return nil
	}

	cmd := exec.Command("wandb", argv...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("spawning wandb sync", "dir", dir, "timeout", r.timeout)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start wandb sync: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-timeoutC:
		r.terminate(cmd, waitErr)
		return &TimeoutError{Dir: dir, Timeout: r.timeout}

	case <-ctx.Done():
		r.terminate(cmd, waitErr)
		return ctx.Err()

	case err := <-waitErr:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				r.logger.Warn("wandb sync exited with non-zero status",
					"dir", dir, "exit_code", exitErr.ExitCode(), "stderr", truncate(stderr.String()))
				return fmt.Errorf("wandb sync exited with status %d", exitErr.ExitCode())
			}
			return fmt.Errorf("wait for wandb sync: %w", err)
		}
		return nil
	}
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
func (r *WandbRunner) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	r.logger.Warn("terminating wandb sync, sending SIGTERM")
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			r.logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		r.logger.Warn("wandb sync did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				r.logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
