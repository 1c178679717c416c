package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
syncer:
  command_dir: `+t.TempDir()+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Syncer.MaxWorkers)
	assert.Equal(t, 1*time.Second, cfg.Syncer.PollWait.Std())
	assert.Equal(t, 2*time.Minute, cfg.Syncer.Timeout.Std())
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.False(t, cfg.Syncer.DryRun)
	assert.False(t, cfg.History.Enabled)
}

func TestLoadHistoryRetention(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
syncer:
  command_dir: `+dir+`
history:
  enabled: true
  path: `+filepath.Join(dir, "history.db")+`
  retention: 168h
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, cfg.History.Retention.Std())
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
syncer:
  command_dir: `+t.TempDir()+`
  poll_wait: 250ms
  timeout: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Syncer.PollWait.Std())
	// A bare number is seconds.
	assert.Equal(t, 30*time.Second, cfg.Syncer.Timeout.Std())
}

func TestLoadRejectsZeroMaxWorkers(t *testing.T) {
	path := writeConfig(t, `
syncer:
  command_dir: `+t.TempDir()+`
  max_workers: 0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMaxWorkers)
}

func TestLoadRejectsNegativeMaxWorkers(t *testing.T) {
	path := writeConfig(t, `
syncer:
  command_dir: `+t.TempDir()+`
  max_workers: -3
`)

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidMaxWorkers)
}

func TestLoadInterpolatesEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OSH_TEST_DIR", dir)
	path := writeConfig(t, `
syncer:
  command_dir: ${OSH_TEST_DIR}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Syncer.CommandDir)
}

func TestLoadWandbOptions(t *testing.T) {
	path := writeConfig(t, `
syncer:
  command_dir: `+t.TempDir()+`
  wandb_options: ["--sync-tensorboard", "--mark-synced"]
  dry_run: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"--sync-tensorboard", "--mark-synced"}, cfg.Syncer.WandbOptions)
	assert.True(t, cfg.Syncer.DryRun)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Syncer.CommandDir = t.TempDir()
	cfg.Service.LogLevel = "loud"
	assert.Error(t, cfg.Validate())
}

func TestValidateHistoryPathRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Syncer.CommandDir = t.TempDir()
	cfg.History.Enabled = true
	cfg.History.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestExpandPathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.wandb_osh_command_dir")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".wandb_osh_command_dir"), got)
}
