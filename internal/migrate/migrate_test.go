package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTarget is an in-memory schema_migrations table. Scripts are "applied"
// by looking up their content in failures.
type memTarget struct {
	rows     map[int64]bool // version -> dirty
	applied  []string       // script bodies, in apply order
	failures map[string]error
	// execErr fails every bookkeeping statement containing the key.
	execErr map[string]error
	// noTable makes the catalog report schema_migrations as absent.
	noTable bool
	execs   []string
}

func newMemTarget() *memTarget {
	return &memTarget{rows: map[int64]bool{}, failures: map[string]error{}, execErr: map[string]error{}}
}

func (m *memTarget) Exec(_ context.Context, stmt string) error {
	for key, err := range m.execErr {
		if strings.Contains(stmt, key) {
			return err
		}
	}
	m.execs = append(m.execs, stmt)
	var v int64
	switch {
	case strings.HasPrefix(stmt, "CREATE TABLE"):
	case strings.HasPrefix(stmt, "INSERT INTO schema_migrations"):
		if _, err := fmt.Sscanf(stmt, "INSERT INTO schema_migrations (version, dirty) VALUES (%d, true)", &v); err != nil {
			return err
		}
		m.rows[v] = true
	case strings.HasPrefix(stmt, "UPDATE schema_migrations"):
		if _, err := fmt.Sscanf(stmt, "UPDATE schema_migrations SET dirty = false WHERE version = %d;", &v); err != nil {
			return err
		}
		m.rows[v] = false
	default:
		return fmt.Errorf("unexpected statement %q", stmt)
	}
	return nil
}

func (m *memTarget) Versions(_ context.Context, query string) ([]int64, error) {
	if strings.Contains(query, "information_schema.tables") {
		if m.noTable {
			return []int64{0}, nil
		}
		return []int64{1}, nil
	}
	if m.noTable {
		return nil, errors.New(`ERROR:  relation "schema_migrations" does not exist`)
	}
	wantDirty := strings.Contains(query, "dirty = true")
	var out []int64
	for v, dirty := range m.rows {
		if dirty == wantDirty {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memTarget) Apply(_ context.Context, script io.Reader) error {
	body, err := io.ReadAll(script)
	if err != nil {
		return err
	}
	if err := m.failures[string(body)]; err != nil {
		return err
	}
	m.applied = append(m.applied, string(body))
	return nil
}

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func collect(lines *[]string) func(string) {
	return func(l string) { *lines = append(*lines, l) }
}

func TestApplyPending_TwoFilesFromEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")

	target := newMemTarget()
	var lines []string
	res, err := New(target, dir, collect(&lines)).ApplyPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, target.applied)
	assert.Equal(t, map[int64]bool{1: false, 2: false}, target.rows)
	assert.Equal(t, []int64{1, 2}, res.Applied)
	assert.Equal(t, []string{"  apply 1_a.up.sql", "  apply 2_b.up.sql"}, lines)
}

func TestApplyPending_Idempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")

	target := newMemTarget()
	m := New(target, dir, nil)
	_, err := m.ApplyPending(context.Background())
	require.NoError(t, err)

	var lines []string
	m.progress = collect(&lines)
	res, err := m.ApplyPending(context.Background())
	require.NoError(t, err)

	assert.Len(t, target.applied, 2, "no file applied twice")
	assert.Empty(t, res.Applied)
	assert.Equal(t, []int64{1, 2}, res.Skipped)
	assert.Equal(t, []string{"  skip 1_a.up.sql (already applied)", "  skip 2_b.up.sql (already applied)"}, lines)
}

func TestApplyPending_NumericOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "10_ten.up.sql", "TEN")
	writeMigration(t, dir, "2_two.up.sql", "TWO")
	writeMigration(t, dir, "000001_one.up.sql", "ONE")

	target := newMemTarget()
	res, err := New(target, dir, nil).ApplyPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"ONE", "TWO", "TEN"}, target.applied)
	assert.Equal(t, []int64{1, 2, 10}, res.Applied)
}

func TestApplyPending_DirtyRetriedBeforeHigherVersions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")
	writeMigration(t, dir, "3_c.up.sql", "C")

	target := newMemTarget()
	target.rows[1] = false
	target.rows[2] = true

	var lines []string
	res, err := New(target, dir, collect(&lines)).ApplyPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, target.applied)
	assert.Equal(t, []int64{2}, res.Retried)
	assert.Equal(t, map[int64]bool{1: false, 2: false, 3: false}, target.rows)
	assert.Contains(t, lines[0], "migration 2 was previously left dirty")
}

func TestApplyPending_AlreadyExistsTolerated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")

	target := newMemTarget()
	target.failures["A"] = errors.New(`ERROR:  relation "users" already exists`)

	var lines []string
	res, err := New(target, dir, collect(&lines)).ApplyPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, res.Tolerated)
	assert.Equal(t, []int64{2}, res.Applied)
	assert.Equal(t, map[int64]bool{1: false, 2: false}, target.rows)
	assert.Contains(t, strings.Join(lines, "\n"), "1_a.up.sql, objects already exist, marking as applied")
}

func TestApplyPending_OtherErrorAbortsAndLeavesDirty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")
	writeMigration(t, dir, "3_c.up.sql", "C")

	target := newMemTarget()
	target.failures["B"] = errors.New(`ERROR:  syntax error at or near "CREAT"`)

	res, err := New(target, dir, nil).ApplyPending(context.Background())
	require.Error(t, err)

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int64(2), me.Version)
	assert.Equal(t, "2_b.up.sql", me.File)
	assert.Contains(t, err.Error(), "syntax error")

	assert.Equal(t, []string{"A"}, target.applied, "version 3 never attempted")
	assert.Equal(t, map[int64]bool{1: false, 2: true}, target.rows)
	assert.Equal(t, []int64{1}, res.Applied)
}

func TestApplyPending_DuplicatePhrasingNotTolerated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_seed.up.sql", "SEED")

	target := newMemTarget()
	target.failures["SEED"] = errors.New(`ERROR:  duplicate key value violates unique constraint "users_pkey"`)

	_, err := New(target, dir, nil).ApplyPending(context.Background())
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.True(t, target.rows[1], "row stays dirty")
}

func TestApplyPending_InvalidNameIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "abc_b.up.sql", "B")

	target := newMemTarget()
	_, err := New(target, dir, nil).ApplyPending(context.Background())
	require.ErrorIs(t, err, ErrInvalidName)
	assert.Empty(t, target.applied)
	assert.Empty(t, target.rows)
}

func TestApplyPending_BookkeepingFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")

	target := newMemTarget()
	target.execErr["INSERT INTO"] = errors.New("connection reset")

	_, err := New(target, dir, nil).ApplyPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marking migration 1 dirty")
	assert.Empty(t, target.applied)
}

func TestApplyPending_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := New(newMemTarget(), filepath.Join(t.TempDir(), "nope"), nil).ApplyPending(context.Background())
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")
	writeMigration(t, dir, "3_c.up.sql", "C")

	target := newMemTarget()
	target.rows[1] = false
	target.rows[2] = true

	got, err := New(target, dir, nil).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, StateApplied, got[0].State)
	assert.Equal(t, StateDirty, got[1].State)
	assert.Equal(t, StatePending, got[2].State)
	assert.Empty(t, target.applied)
}

func TestStatus_WithoutTrackingTableIsReadOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "1_a.up.sql", "A")
	writeMigration(t, dir, "2_b.up.sql", "B")

	target := newMemTarget()
	target.noTable = true

	got, err := New(target, dir, nil).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, fs := range got {
		assert.Equal(t, StatePending, fs.State)
	}
	assert.Empty(t, target.execs, "status must not write to the database")
}

func TestTolerated_CaseSensitiveMarker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{msg: `ERROR:  relation "users" already exists`, want: true},
		{msg: `ERROR:  type "role" already exists`, want: true},
		{msg: `ERROR:  relation "users" ALREADY EXISTS`, want: false},
		{msg: `ERROR:  duplicate key value violates unique constraint "users_pkey"`, want: false},
	}
	for _, tc := range tests {
		_, ok := tolerated(tc.msg)
		assert.Equal(t, tc.want, ok, tc.msg)
	}
}
