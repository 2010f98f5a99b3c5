// Package history keeps a local SQLite journal of operations and their
// phases.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

// ErrNotFound is returned by GetRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one recorded operation.
type Run struct {
	ID         string                     `json:"id" yaml:"id"`
	Operation  string                     `json:"operation" yaml:"operation"`
	Status     string                     `json:"status" yaml:"status"`
	Error      string                     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time                  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time                 `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
	Phases     []orchestrator.PhaseResult `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// Store persists runs. It satisfies orchestrator.Recorder.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS phase_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_phase_executions_run_id ON phase_executions(run_id)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a run in its initial state.
func (s *Store) StartRun(ctx context.Context, run orchestrator.RunResult) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, operation, status, started_at) VALUES (?, ?, ?, ?)",
		run.ID, string(run.Operation), run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordPhase appends one finished phase to a run.
func (s *Store) RecordPhase(ctx context.Context, runID string, p orchestrator.PhaseResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_executions (run_id, idx, name, command, status, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.Index, p.Name, p.Command, p.Status, p.Error, p.StartedAt, p.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record phase: %w", err)
	}
	return nil
}

// FinishRun stores the final status of a run.
func (s *Store) FinishRun(ctx context.Context, run orchestrator.RunResult) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		run.Status, run.Error, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first, without phases.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, operation, status, error, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its phases in execution order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, operation, status, error, started_at, finished_at FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, name, command, status, error, started_at, duration_ms
		 FROM phase_executions WHERE run_id = ? ORDER BY idx ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p orchestrator.PhaseResult
		if err := rows.Scan(&p.Index, &p.Name, &p.Command, &p.Status, &p.Error, &p.StartedAt, &p.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		r.Phases = append(r.Phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Prune deletes all but the newest keep runs and returns how many went.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var finishedAt sql.NullTime
	if err := sc.Scan(&r.ID, &r.Operation, &r.Status, &r.Error, &r.StartedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan run: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return r, nil
}
