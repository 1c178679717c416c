// Package command reads the command-file side of the command-dir protocol:
// each *.command file holds the path of one wandb run directory to sync.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pierreadorni/wandb-offline-sync-hook/internal/hook"
)

// InvalidTargetError marks a command file whose target is not an existing
// directory. Terminal for that file: it is deleted and never retried.
type InvalidTargetError struct {
	File   string
	Target string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("command file %s points to non-existing directory %s", e.File, e.Target)
}

// File is one command file observed during a scan.
type File struct {
	// Path of the command file itself.
	Path string
	// Target is the normalized absolute run directory the file names.
	Target string
	// Err is non-nil when the file could not be used (unreadable content or
	// an invalid target). The file is still consumed.
	Err error
}

// Source scans a directory for command files.
type Source struct {
	dir string
}

// NewSource returns a Source over dir. The directory is created lazily on
// the first scan so the syncer can start before any producer has run.
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// Dir returns the command directory.
func (s *Source) Dir() string { return s.dir }

// Scan lists *.command files in a stable order, reads each one's target path
// and validates that it is an existing directory. Files that vanish between
// listing and reading are skipped; producers may add files at any time
// without corrupting the scan.
func (s *Source) Scan() ([]File, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create command dir: %w", err)
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+hook.Extension))
	if err != nil {
		return nil, fmt.Errorf("scan command dir: %w", err)
	}
	sort.Strings(matches)

	files := make([]File, 0, len(matches))
	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Consumed by someone else between listing and reading.
				continue
			}
			files = append(files, File{Path: path, Err: fmt.Errorf("read command file %s: %w", path, err)})
			continue
		}

		target, err := normalizeTarget(string(content))
		if err != nil {
			files = append(files, File{Path: path, Err: fmt.Errorf("parse command file %s: %w", path, err)})
			continue
		}

		f := File{Path: path, Target: target}
		if info, err := os.Stat(target); err != nil || !info.IsDir() {
			f.Err = &InvalidTargetError{File: path, Target: target}
		}
		files = append(files, f)
	}
	return files, nil
}

// Remove deletes consumed command files. Errors are ignored: files already
// gone were removed by a concurrent producer, and anything else resurfaces
// on the next scan.
func (s *Source) Remove(files []File) {
	for _, f := range files {
		_ = os.Remove(f.Path)
	}
}

func normalizeTarget(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", fmt.Errorf("empty target path")
	}
	return filepath.Abs(target)
}
