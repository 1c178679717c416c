// Package history keeps an append-only log of sync outcomes in SQLite.
// It records what already happened; scheduling state never lives here.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the terminal outcome of one sync job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Entry is one recorded sync outcome.
type Entry struct {
	ID          string
	Target      string
	Status      Status
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store wraps the SQLite database holding the sync log.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path and
// ensures the sync_log table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_log (
  id           TEXT PRIMARY KEY,
  target       TEXT NOT NULL,
  status       TEXT NOT NULL,
  last_error   TEXT,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS sync_log_completed_at_idx ON sync_log(completed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Record appends one outcome row. A missing ID is filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Target == "" {
		return fmt.Errorf("target is empty")
	}
	if e.Status != StatusSucceeded && e.Status != StatusFailed && e.Status != StatusTimedOut {
		return fmt.Errorf("invalid status: %q", e.Status)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	var lastError any
	if e.Error != "" {
		lastError = e.Error
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_log(id, target, status, last_error, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?);
`, e.ID, e.Target, e.Status, lastError,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert sync_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, target, status, last_error, started_at, completed_at
FROM sync_log
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync_log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			statusS    string
			lastError  sql.NullString
			startedS   string
			completedS string
		)
		if err := rows.Scan(&e.ID, &e.Target, &statusS, &lastError, &startedS, &completedS); err != nil {
			return nil, fmt.Errorf("scan sync_log: %w", err)
		}
		e.Status = Status(statusS)
		if lastError.Valid {
			e.Error = lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, startedS); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
			e.CompletedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune drops entries completed before now-retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_log WHERE completed_at < ?;`, cutoff); err != nil {
		return fmt.Errorf("prune sync_log: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
