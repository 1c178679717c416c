// Package syncer runs the sync scheduling loop: it turns command files into
// bounded-concurrency wandb sync jobs and retries the ones that time out.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pierreadorni/wandb-offline-sync-hook/internal/command"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/config"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/history"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/hook"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/log"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/pool"
	"github.com/pierreadorni/wandb-offline-sync-hook/internal/runner"
)

// flight is one dispatched job awaiting completion.
type flight struct {
	target    string
	startedAt time.Time
}

// Syncer owns the pending set and the in-flight table. Both are mutated
// only by the loop goroutine; workers report back solely through pool
// handles.
type Syncer struct {
	source     *command.Source
	pool       *pool.Pool
	run        runner.Runner
	hist       *history.Store
	logger     *slog.Logger
	commandDir string
	pollWait   time.Duration
	maxWorkers int

	pending  map[string]struct{}
	inFlight map[pool.Handle]flight
}

// Option adjusts a Syncer at construction.
type Option func(*Syncer)

// WithRunner replaces the wandb runner. Tests inject fakes here.
func WithRunner(r runner.Runner) Option {
	return func(s *Syncer) { s.run = r }
}

// WithHistory attaches an outcome log; every reclaimed job is recorded.
func WithHistory(h *history.Store) Option {
	return func(s *Syncer) { s.hist = h }
}

// New builds a Syncer from cfg. It fails fast on max_workers < 1; the
// value is never clamped.
func New(cfg *config.Config, opts ...Option) (*Syncer, error) {
	mw := cfg.Syncer.MaxWorkers
	if mw < 1 {
		return nil, fmt.Errorf("syncer: max_workers is %d: %w", mw, config.ErrInvalidMaxWorkers)
	}

	p, err := pool.New(mw)
	if err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}

	s := &Syncer{
		source:     command.NewSource(cfg.Syncer.CommandDir),
		pool:       p,
		run:        runner.New(cfg.Syncer.WandbOptions, cfg.Syncer.Timeout.Std(), cfg.Syncer.DryRun),
		logger:     log.WithComponent("syncer"),
		commandDir: cfg.Syncer.CommandDir,
		pollWait:   cfg.Syncer.PollWait.Std(),
		maxWorkers: mw,
		pending:    make(map[string]struct{}),
		inFlight:   make(map[pool.Handle]flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run drives the loop until ctx is cancelled, then drains all in-flight
// jobs and reconciles their outcomes so none is lost.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("starting to watch command dir",
		"dir", s.commandDir, "max_workers", s.maxWorkers, "poll_wait", s.pollWait)

	for {
		start := time.Now()
		s.cycle(ctx)
		if stopped := s.throttle(ctx, start); stopped {
			break
		}
	}

	s.logger.Info("stopping, draining in-flight syncs", "in_flight", len(s.inFlight))
	s.pool.Drain()
	// ctx is cancelled by now; outcomes must still be recorded.
	s.reclaim(context.WithoutCancel(ctx))
	s.logger.Info("syncer stopped")
	return nil
}

// cycle performs one scheduling pass: reclaim, ingest, dispatch, cleanup.
func (s *Syncer) cycle(ctx context.Context) {
	s.reclaim(ctx)
	files := s.ingest()
	s.dispatch(ctx)
	s.source.Remove(files)
}

// reclaim removes every observably finished job from the in-flight table.
// Timeouts are requeued both on disk and in memory; everything else is
// dropped here, the runner and the history log having already said their
// piece.
func (s *Syncer) reclaim(ctx context.Context) {
	for h, fl := range s.inFlight {
		if !s.pool.Done(h) {
			continue
		}
		delete(s.inFlight, h)
		err := s.pool.Err(h)
		s.record(ctx, fl, err)

		var timeoutErr *runner.TimeoutError
		if errors.As(err, &timeoutErr) {
			s.logger.Warn("sync timed out, trying later", "target", fl.target)
			s.requeue(fl.target)
			continue
		}
		s.logger.Debug("sync finished", "target", fl.target, "duration", time.Since(fl.startedAt))
	}
}

// requeue makes a timed-out target durable again: a fresh command file on
// disk (so a restart rediscovers it) plus a pending re-add (so this process
// retries without waiting for its own scan).
func (s *Syncer) requeue(target string) {
	if _, err := hook.Trigger(s.commandDir, target); err != nil {
		s.logger.Error("failed to rewrite command file for retry", "target", target, "error", err)
	}
	s.pending[target] = struct{}{}
}

// ingest scans the command dir and folds valid targets into the pending
// set. Invalid targets are terminal: logged, consumed, never retried.
func (s *Syncer) ingest() []command.File {
	files, err := s.source.Scan()
	if err != nil {
		s.logger.Error("command dir scan failed", "dir", s.commandDir, "error", err)
		return nil
	}

	for _, f := range files {
		if f.Err != nil {
			s.logger.Error("skipping command file", "file", f.Path, "error", f.Err)
			continue
		}
		if s.isInFlight(f.Target) {
			// Already running; a target never sits in both tables.
			continue
		}
		s.pending[f.Target] = struct{}{}
	}
	return files
}

// dispatch moves pending targets into the pool while capacity remains.
func (s *Syncer) dispatch(ctx context.Context) {
	available := s.maxWorkers - len(s.inFlight)
	if available <= 0 || len(s.pending) == 0 {
		return
	}

	targets := make([]string, 0, len(s.pending))
	for t := range s.pending {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		target := target
		if available <= 0 {
			break
		}
		delete(s.pending, target)
		s.logger.Info("syncing", "target", target)
		// Jobs are never cancelled mid-flight; shutdown drains them instead.
		jobCtx := context.WithoutCancel(ctx)
		h := s.pool.Submit(func() error {
			return s.run.Run(jobCtx, target)
		})
		s.inFlight[h] = flight{target: target, startedAt: time.Now()}
		available--
	}
}

// throttle keeps cycle starts at least pollWait apart. Returns true when
// ctx was cancelled.
func (s *Syncer) throttle(ctx context.Context, start time.Time) bool {
	remaining := s.pollWait - time.Since(start)
	if remaining <= 0 {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (s *Syncer) isInFlight(target string) bool {
	for _, fl := range s.inFlight {
		if fl.target == target {
			return true
		}
	}
	return false
}

func (s *Syncer) record(ctx context.Context, fl flight, err error) {
	if s.hist == nil {
		return
	}

	entry := history.Entry{
		Target:      fl.target,
		Status:      history.StatusSucceeded,
		StartedAt:   fl.startedAt,
		CompletedAt: time.Now(),
	}
	var timeoutErr *runner.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		entry.Status = history.StatusTimedOut
		entry.Error = err.Error()
	case err != nil:
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
	}

	if err := s.hist.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record sync outcome", "target", fl.target, "error", err)
	}
}
