package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pierreadorni/wandb-offline-sync-hook/internal/config"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/history"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/hook"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/lock"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/log"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/syncer"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "trigger":
		os.Exit(runTrigger(args))
	case "history":
		os.Exit(runHistory(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("wandb-osh version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`wandb-osh - offline sync helper for wandb runs on compute nodes

Usage:
  wandb-osh <command> [flags]

Commands:
  start     Watch the command directory and run wandb sync jobs
  trigger   Queue a run directory for syncing (writes a command file)
  history   Show recent sync outcomes (requires history enabled)
  config    Configuration tools (check, show)
  version   Show version information
  help      Show this help message

Use 'wandb-osh <command> --help' for command-specific flags.
`)
}

// stringList collects repeatable string flags, e.g. --wandb-option.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, " ") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// loadConfig resolves the effective configuration. An explicit --config path
// must exist; without one, the default path is used when present and built-in
// defaults otherwise.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}

	defaultPath, err := config.DefaultPath()
	if err == nil {
		if _, statErr := os.Stat(defaultPath); statErr == nil {
			return config.Load(defaultPath)
		}
	}

	cfg := config.Defaults()
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStart(args []string) int {
	var wandbOptions stringList

	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	commandDir := fs.String("command-dir", "", "Directory to watch for command files")
	pollWait := fs.Duration("poll-wait", 0, "Minimum wait between polling cycles")
	timeout := fs.Duration("timeout", 0, "Timeout for a single wandb sync call (0 = no timeout)")
	maxWorkers := fs.Int("max-workers", 0, "Maximum number of concurrent sync jobs")
	dryRun := fs.Bool("dry-run", false, "Log the wandb invocations instead of running them")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (text, json)")
	fs.Var(&wandbOptions, "wandb-option", "Extra option passed to wandb sync (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Flags override the file. Only flags the user actually set apply, so a
	// config value is never clobbered by a flag default.
	provided := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { provided[f.Name] = true })
	if provided["command-dir"] {
		cfg.Syncer.CommandDir = *commandDir
	}
	if provided["poll-wait"] {
		cfg.Syncer.PollWait = config.Duration(*pollWait)
	}
	if provided["timeout"] {
		cfg.Syncer.Timeout = config.Duration(*timeout)
	}
	if provided["max-workers"] {
		cfg.Syncer.MaxWorkers = *maxWorkers
	}
	if provided["dry-run"] {
		cfg.Syncer.DryRun = *dryRun
	}
	if provided["log-level"] {
		cfg.Service.LogLevel = *logLevel
	}
	if provided["log-format"] {
		cfg.Service.LogFormat = *logFormat
	}
	if provided["wandb-option"] {
		cfg.Syncer.WandbOptions = wandbOptions
	}
	if err := cfg.Finalize(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("wandb-osh starting", "version", version, "command_dir", cfg.Syncer.CommandDir)

	pidLockPath := lock.PathForCommandDir(cfg.Syncer.CommandDir)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	opts := []syncer.Option{}
	if cfg.History.Enabled {
		hist, err := history.Open(context.Background(), cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history database", "path", cfg.History.Path, "error", err)
			return 1
		}
		defer hist.Close()
		logger.Info("history database opened", "path", cfg.History.Path)
		if retention := cfg.History.Retention.Std(); retention > 0 {
			if err := hist.Prune(context.Background(), retention); err != nil {
				logger.Warn("failed to prune history", "retention", retention, "error", err)
			} else {
				logger.Info("pruned history", "retention", retention)
			}
		}
		opts = append(opts, syncer.WithHistory(hist))
	}

	s, err := syncer.New(cfg, opts...)
	if err != nil {
		logger.Error("failed to build syncer", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		logger.Error("syncer failed", "error", err)
		return 1
	}
	logger.Info("wandb-osh stopped")
	return 0
}

func runTrigger(args []string) int {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	commandDir := fs.String("command-dir", "", "Directory the syncer watches for command files")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	runDir := "."
	if fs.NArg() > 0 {
		runDir = fs.Arg(0)
	}

	dir := *commandDir
	if dir == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		dir = cfg.Syncer.CommandDir
	}

	path, err := hook.Trigger(dir, runDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Trigger failed: %v\n", err)
		return 1
	}
	fmt.Printf("Queued %s (%s)\n", runDir, path)
	return 0
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of entries to show")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	prune := fs.Duration("prune", 0, "Drop entries older than this before listing")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "History is disabled. Enable it under 'history:' in the config file.")
		return 1
	}

	ctx := context.Background()
	hist, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history database: %v\n", err)
		return 1
	}
	defer hist.Close()

	if *prune > 0 {
		if err := hist.Prune(ctx, *prune); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to prune history: %v\n", err)
			return 1
		}
	}

	entries, err := hist.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No sync history recorded yet.")
		return 0
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-9s  %s",
			e.CompletedAt.Local().Format(time.DateTime), e.Status, e.Target)
		if e.Error != "" {
			line += "  (" + e.Error + ")"
		}
		fmt.Println(line)
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wandb-osh config <check|show> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "help", "--help", "-h":
		fmt.Println("Usage: wandb-osh config <check|show> [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	fmt.Println("Config check PASSED.")
	fmt.Printf("  command_dir: %s\n", cfg.Syncer.CommandDir)
	fmt.Printf("  poll_wait:   %s\n", cfg.Syncer.PollWait.Std())
	fmt.Printf("  timeout:     %s\n", cfg.Syncer.Timeout.Std())
	fmt.Printf("  max_workers: %d\n", cfg.Syncer.MaxWorkers)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}
