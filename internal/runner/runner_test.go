package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pierreadorni/wandb-offline-sync-hook/internal/log"
)

// installFakeWandb puts a shell script named wandb at the front of PATH so
// Run spawns it instead of the real CLI.
func installFakeWandb(t *testing.T, script string) {
	t.Helper()
	binDir := t.TempDir()
	path := filepath.Join(binDir, "wandb")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestDryRunLogsWouldBeInvocation(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf, "DEBUG", "text")

	dir := t.TempDir()
	r := New([]string{"--sync-tensorboard"}, 30*time.Second, true)
	err := r.Run(context.Background(), dir)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "not calling wandb")
	assert.Contains(t, out, "wandb sync --sync-tensorboard .")
	assert.Contains(t, out, dir)
}

func TestDryRunSpawnsNothing(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf, "DEBUG", "text")

	// A dry run never looks for the wandb binary, so this succeeds even on
	// machines without wandb installed.
	r := New(nil, 0, true)
	assert.NoError(t, r.Run(context.Background(), t.TempDir()))
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Dir: "/tmp/run0", Timeout: 2 * time.Minute}
	assert.Contains(t, err.Error(), "/tmp/run0")
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunSucceedsInTargetDirectory(t *testing.T) {
	installFakeWandb(t, "#!/bin/sh\npwd > marker\nexit 0\n")

	dir := t.TempDir()
	r := New(nil, 30*time.Second, false)
	require.NoError(t, r.Run(context.Background(), dir))

	// The subprocess ran with the run directory as its working directory.
	marker, err := os.ReadFile(filepath.Join(dir, "marker"))
	require.NoError(t, err)
	assert.Contains(t, string(marker), dir)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf, "DEBUG", "text")
	installFakeWandb(t, "#!/bin/sh\necho boom >&2\nexit 3\n")

	dir := t.TempDir()
	r := New(nil, 30*time.Second, false)
	err := r.Run(context.Background(), dir)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr), "exit failure must not look like a timeout")
	assert.Contains(t, err.Error(), "status 3")

	out := buf.String()
	assert.Contains(t, out, "exit_code=3")
	assert.Contains(t, out, "boom")
}

func TestRunTimeoutTerminatesProcess(t *testing.T) {
	// exec replaces the shell so SIGTERM lands on sleep directly.
	installFakeWandb(t, "#!/bin/sh\nexec sleep 10\n")

	dir := t.TempDir()
	r := New(nil, 200*time.Millisecond, false)

	start := time.Now()
	err := r.Run(context.Background(), dir)
	elapsed := time.Since(start)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, dir, timeoutErr.Dir)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)

	// SIGTERM kills sleep immediately; well inside timeout + grace period.
	assert.Less(t, elapsed, 5*time.Second)
}

func TestRunZeroTimeoutNeverFires(t *testing.T) {
	installFakeWandb(t, "#!/bin/sh\nsleep 0.3\nexit 0\n")

	r := New(nil, 0, false)
	assert.NoError(t, r.Run(context.Background(), t.TempDir()))
}
