// Package migrate applies forward-only SQL migrations and tracks them in a
// golang-migrate compatible schema_migrations table.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (version bigint NOT NULL PRIMARY KEY, dirty boolean NOT NULL);`
	tableExistsSQL = `SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_migrations';`
	appliedSQL     = `SELECT version FROM schema_migrations WHERE dirty = false ORDER BY version;`
	dirtySQL       = `SELECT version FROM schema_migrations WHERE dirty = true ORDER BY version;`
	markDirtySQL   = `INSERT INTO schema_migrations (version, dirty) VALUES (%d, true) ON CONFLICT (version) DO UPDATE SET dirty = true;`
	markCleanSQL   = `UPDATE schema_migrations SET dirty = false WHERE version = %d;`
)

// Error reports a migration file the database rejected. The version's
// tracking row stays dirty.
type Error struct {
	Version int64
	File    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to apply %s: %s", e.File, e.Message)
}

// Result summarises one ApplyPending run.
type Result struct {
	Applied   []int64 `json:"applied"`
	Skipped   []int64 `json:"skipped"`
	Tolerated []int64 `json:"tolerated"`
	Retried   []int64 `json:"retried"`
}

// State of one migration file relative to the tracking table.
type State string

const (
	StatePending State = "pending"
	StateApplied State = "applied"
	StateDirty   State = "dirty"
)

// FileStatus pairs a migration file with its tracked state.
type FileStatus struct {
	File  `yaml:",inline"`
	State State `json:"state" yaml:"state"`
}

// Migrator applies the migrations found in one directory to one target.
type Migrator struct {
	target Target
	dir    string
	// progress receives operator-facing lines; may be nil.
	progress func(line string)
}

// New returns a Migrator. progress may be nil.
func New(target Target, dir string, progress func(line string)) *Migrator {
	return &Migrator{target: target, dir: dir, progress: progress}
}

func (m *Migrator) report(format string, args ...any) {
	if m.progress != nil {
		m.progress(fmt.Sprintf(format, args...))
	}
}

// ApplyPending applies every migration whose version has no clean tracking
// row, in ascending numeric order. Each version is marked dirty before its
// file runs and clean only after it succeeds, so an interrupted run leaves a
// dirty row that the next run retries. Re-running with nothing pending is a
// no-op apart from "skip" lines.
func (m *Migrator) ApplyPending(ctx context.Context) (*Result, error) {
	files, err := Scan(m.dir)
	if err != nil {
		return nil, err
	}

	applied, dirty, err := m.tracked(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range sortedKeys(dirty) {
		m.report("  WARNING: migration %d was previously left dirty, will retry", v)
		slog.WarnContext(ctx, "dirty migration found", "version", v)
	}

	res := &Result{}
	for _, f := range files {
		if applied[f.Version] {
			m.report("  skip %s (already applied)", f.Name)
			res.Skipped = append(res.Skipped, f.Version)
			continue
		}

		m.report("  apply %s", f.Name)
		if err := m.target.Exec(ctx, fmt.Sprintf(markDirtySQL, f.Version)); err != nil {
			return res, fmt.Errorf("marking migration %d dirty: %w", f.Version, err)
		}

		if err := m.applyFile(ctx, f); err != nil {
			reason, ok := tolerated(err.Error())
			if !ok {
				slog.ErrorContext(ctx, "migration failed", "version", f.Version, "file", f.Name, "err", err)
				return res, &Error{Version: f.Version, File: f.Name, Message: err.Error()}
			}
			m.report("  WARNING: %s, %s, marking as applied", f.Name, reason)
			slog.WarnContext(ctx, "migration tolerated", "version", f.Version, "reason", reason)
			res.Tolerated = append(res.Tolerated, f.Version)
		} else {
			res.Applied = append(res.Applied, f.Version)
		}

		if err := m.target.Exec(ctx, fmt.Sprintf(markCleanSQL, f.Version)); err != nil {
			return res, fmt.Errorf("marking migration %d clean: %w", f.Version, err)
		}
		if dirty[f.Version] {
			res.Retried = append(res.Retried, f.Version)
		}
		slog.InfoContext(ctx, "migration applied", "version", f.Version, "file", f.Name)
	}
	return res, nil
}

// Status reports every migration file with its tracked state. It only
// reads: without a tracking table every file is pending.
func (m *Migrator) Status(ctx context.Context) ([]FileStatus, error) {
	files, err := Scan(m.dir)
	if err != nil {
		return nil, err
	}
	exists, err := m.target.Versions(ctx, tableExistsSQL)
	if err != nil {
		return nil, fmt.Errorf("looking up schema_migrations: %w", err)
	}
	applied, dirty := map[int64]bool{}, map[int64]bool{}
	if len(exists) == 1 && exists[0] > 0 {
		if applied, dirty, err = m.load(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]FileStatus, 0, len(files))
	for _, f := range files {
		st := StatePending
		switch {
		case applied[f.Version]:
			st = StateApplied
		case dirty[f.Version]:
			st = StateDirty
		}
		out = append(out, FileStatus{File: f, State: st})
	}
	return out, nil
}

// tracked ensures the tracking table exists and loads its clean and dirty sets.
func (m *Migrator) tracked(ctx context.Context) (applied, dirty map[int64]bool, err error) {
	if err := m.target.Exec(ctx, createTableSQL); err != nil {
		return nil, nil, fmt.Errorf("creating schema_migrations: %w", err)
	}
	return m.load(ctx)
}

func (m *Migrator) load(ctx context.Context) (applied, dirty map[int64]bool, err error) {
	cleanVersions, err := m.target.Versions(ctx, appliedSQL)
	if err != nil {
		return nil, nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	dirtyVersions, err := m.target.Versions(ctx, dirtySQL)
	if err != nil {
		return nil, nil, fmt.Errorf("reading dirty migrations: %w", err)
	}
	return toSet(cleanVersions), toSet(dirtyVersions), nil
}

func (m *Migrator) applyFile(ctx context.Context, f File) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer fh.Close()
	return m.target.Apply(ctx, fh)
}

func toSet(vs []int64) map[int64]bool {
	set := make(map[int64]bool, len(vs))
	for _, v := range vs {
		set[v] = true
	}
	return set
}

func sortedKeys(set map[int64]bool) []int64 {
	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
