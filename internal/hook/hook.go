// Package hook writes the command files that ask a running syncer to sync a
// wandb run directory. It is the producer half of the command-dir protocol:
// training code (or the wandb-osh trigger action) calls Trigger when a run
// finishes an epoch offline, and the syncer's requeue path calls it again
// when a sync times out.
package hook

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Extension is the suffix the syncer scans for.
const Extension = ".command"

// Trigger writes a command file for runDir into commandDir and returns the
// file's path. The file name is derived from a hash of the normalized run
// path, so repeated triggers for the same run collapse to a single file on
// disk. The write goes through a temp file and rename so a concurrent scan
// never observes a partial path.
func Trigger(commandDir, runDir string) (string, error) {
	if commandDir == "" {
		return "", fmt.Errorf("command dir is empty")
	}
	if runDir == "" {
		return "", fmt.Errorf("run dir is empty")
	}

	absRun, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolve run dir %q: %w", runDir, err)
	}

	if err := os.MkdirAll(commandDir, 0o755); err != nil {
		return "", fmt.Errorf("create command dir: %w", err)
	}

	sum := blake3.Sum256([]byte(absRun))
	name := hex.EncodeToString(sum[:16]) + Extension
	dst := filepath.Join(commandDir, name)

	tmp, err := os.CreateTemp(commandDir, ".trigger-*")
	if err != nil {
		return "", fmt.Errorf("create temp command file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(absRun); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write command file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close command file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("publish command file: %w", err)
	}
	return dst, nil
}
