package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete wandb-osh configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Syncer  SyncerConfig  `yaml:"syncer"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SyncerConfig defines the sync scheduler settings.
type SyncerConfig struct {
	// CommandDir is the directory scanned for *.command files.
	CommandDir string `yaml:"command_dir"`

	// PollWait is the minimum wall-clock time between cycle starts.
	PollWait Duration `yaml:"poll_wait"`

	// Timeout bounds one wandb sync invocation. <= 0 disables the bound.
	Timeout Duration `yaml:"timeout"`

	// MaxWorkers caps concurrent sync invocations. Must be >= 1.
	MaxWorkers int `yaml:"max_workers"`

	// WandbOptions are extra flags forwarded verbatim to wandb sync.
	WandbOptions []string `yaml:"wandb_options,omitempty"`

	// DryRun logs the would-be invocation instead of spawning wandb.
	DryRun bool `yaml:"dry_run"`
}

// HistoryConfig defines the optional sync outcome log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`

	// Retention drops entries older than this at startup. <= 0 keeps all.
	Retention Duration `yaml:"retention,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML either as a
// duration string ("90s", "2m") or as a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*d = 0
			return nil
		}
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}

	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults returns a Config with the stock settings: one worker, one-second
// poll wait, two-minute sync timeout, shared command dir under $HOME.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Syncer: SyncerConfig{
			CommandDir: "~/.wandb_osh_command_dir",
			PollWait:   Duration(1 * time.Second),
			Timeout:    Duration(2 * time.Minute),
			MaxWorkers: 1,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "~/.wandb_osh_command_dir/history.db",
		},
	}
}
