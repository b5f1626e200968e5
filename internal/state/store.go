// Package state persists per-course run records in SQLite. The store backs
// the status command and the daemon status page; the sync pipeline works
// fine without it.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded sync/build/publish invocation for a course.
type Run struct {
	ID         string
	Key        string
	Branch     string
	Commit     string
	SyncAction string
	BuildRan   bool
	BuildOK    bool
	Published  bool
	Target     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store implements run recording on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a new run store. Use ":memory:" for an in-memory database,
// or a file path for persistent storage.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: in-memory databases are per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		course_key TEXT NOT NULL,
		branch TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		sync_action TEXT NOT NULL,
		build_ran INTEGER NOT NULL,
		build_ok INTEGER NOT NULL,
		published INTEGER NOT NULL,
		target TEXT NOT NULL,
		error TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_course_key ON runs(course_key);
	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts a finished run.
func (s *Store) Record(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, course_key, branch, commit_hash, sync_action, build_ran, build_ok, published, target, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Key, run.Branch, run.Commit, run.SyncAction,
		boolToInt(run.BuildRan), boolToInt(run.BuildOK), boolToInt(run.Published),
		run.Target, run.Error, run.StartedAt.Unix(), run.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run for a course key; ok is false when the
// course has never been recorded.
func (s *Store) LastRun(ctx context.Context, key string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE course_key = ? ORDER BY finished_at DESC, id DESC LIMIT 1`, key)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("query last run: %w", err)
	}
	return run, true, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const selectColumns = `SELECT id, course_key, branch, commit_hash, sync_action, build_ran, build_ok, published, target, error, started_at, finished_at FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var buildRan, buildOK, published int
	var started, finished int64
	err := row.Scan(&run.ID, &run.Key, &run.Branch, &run.Commit, &run.SyncAction,
		&buildRan, &buildOK, &published, &run.Target, &run.Error, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.BuildRan = buildRan != 0
	run.BuildOK = buildOK != 0
	run.Published = published != 0
	run.StartedAt = time.Unix(started, 0).UTC()
	run.FinishedAt = time.Unix(finished, 0).UTC()
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
