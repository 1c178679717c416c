package command

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pierreadorni/wandb-offline-sync-hook/internal/hook"
)

func writeCommand(t *testing.T, dir, name, target string) string {
	t.Helper()
	path := filepath.Join(dir, name+hook.Extension)
	require.NoError(t, os.WriteFile(path, []byte(target), 0o644))
	return path
}

func TestScanReadsValidTarget(t *testing.T) {
	dir := t.TempDir()
	target := t.TempDir()
	writeCommand(t, dir, "123", target)

	src := NewSource(dir)
	files, err := src.Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NoError(t, files[0].Err)
	assert.Equal(t, target, files[0].Target)
}

func TestScanFlagsMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "does-not-exist")
	cf := writeCommand(t, dir, "123", target)

	files, err := NewSource(dir).Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)

	var invalid *InvalidTargetError
	require.ErrorAs(t, files[0].Err, &invalid)
	assert.Equal(t, cf, invalid.File)
	assert.Equal(t, target, invalid.Target)
}

func TestScanTrimsTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	target := t.TempDir()
	writeCommand(t, dir, "123", target+"\n")

	files, err := NewSource(dir).Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NoError(t, files[0].Err)
	assert.Equal(t, target, files[0].Target)
}

func TestScanIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wandb-osh.pid"), []byte("1"), 0o644))

	files, err := NewSource(dir).Scan()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	t1, t2 := t.TempDir(), t.TempDir()
	writeCommand(t, dir, "bbb", t2)
	writeCommand(t, dir, "aaa", t1)

	files, err := NewSource(dir).Scan()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, t1, files[0].Target)
	assert.Equal(t, t2, files[1].Target)
}

func TestScanCreatesCommandDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	files, err := NewSource(dir).Scan()
	require.NoError(t, err)
	assert.Empty(t, files)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestScanFlagsEmptyCommandFile(t *testing.T) {
	dir := t.TempDir()
	writeCommand(t, dir, "empty", "   \n")

	files, err := NewSource(dir).Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Error(t, files[0].Err)
	var invalid *InvalidTargetError
	assert.False(t, errors.As(files[0].Err, &invalid))
}

func TestRemoveConsumesFiles(t *testing.T) {
	dir := t.TempDir()
	writeCommand(t, dir, "123", t.TempDir())

	src := NewSource(dir)
	files, err := src.Scan()
	require.NoError(t, err)

	src.Remove(files)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveToleratesAlreadyGone(t *testing.T) {
	dir := t.TempDir()
	cf := writeCommand(t, dir, "123", t.TempDir())

	src := NewSource(dir)
	files, err := src.Scan()
	require.NoError(t, err)

	require.NoError(t, os.Remove(cf))
	assert.NotPanics(t, func() { src.Remove(files) })
}
