package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidMaxWorkers is returned when max_workers is configured below 1.
// The value is never clamped; construction fails fast instead.
var ErrInvalidMaxWorkers = errors.New("max_workers must be >= 1")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DefaultPath returns the conventional config file location,
// ~/.config/wandb-osh/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "wandb-osh", "config.yaml"), nil
}

// Load reads a YAML config file, layers it over Defaults, expands paths and
// validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize expands paths and validates. Callers that build a Config in code
// (flags, tests) run this instead of Load.
func (c *Config) Finalize() error {
	dir, err := ExpandPath(c.Syncer.CommandDir)
	if err != nil {
		return fmt.Errorf("resolve command_dir: %w", err)
	}
	c.Syncer.CommandDir = dir

	if c.History.Enabled {
		p, err := ExpandPath(c.History.Path)
		if err != nil {
			return fmt.Errorf("resolve history.path: %w", err)
		}
		c.History.Path = p
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if c.Syncer.MaxWorkers < 1 {
		return fmt.Errorf("syncer.max_workers is %d: %w", c.Syncer.MaxWorkers, ErrInvalidMaxWorkers)
	}
	if c.Syncer.CommandDir == "" {
		return fmt.Errorf("syncer.command_dir is required")
	}
	if c.Syncer.PollWait < 0 {
		return fmt.Errorf("syncer.poll_wait must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", c.Service.LogLevel)
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
