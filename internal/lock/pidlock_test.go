package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseReacquire(t *testing.T) {
	path := PathForCommandDir(t.TempDir())

	l1, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	assert.Error(t, err, "second acquire should fail while held")

	require.NoError(t, l1.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestPathForCommandDir(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "wandb-osh.pid"), PathForCommandDir(dir))
}
