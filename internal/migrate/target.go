package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"nkrypt-xyz/bootstrapper/internal/engine"
)

// Target is the database a Migrator writes to. Statements carry no bind
// arguments so that every target can run them verbatim.
type Target interface {
	// Exec runs a single bookkeeping statement.
	Exec(ctx context.Context, stmt string) error
	// Versions runs a query returning one bigint column.
	Versions(ctx context.Context, query string) ([]int64, error)
	// Apply runs a whole migration file, stopping at its first error.
	Apply(ctx context.Context, script io.Reader) error
}

// Execer is satisfied by *engine.Engine.
type Execer interface {
	Exec(ctx context.Context, container string, stdin io.Reader, cmd ...string) (engine.Result, error)
}

// ExecTarget drives psql inside the database container. It uses the
// container's unix socket, so it works where host networking to the
// container does not (rootless podman).
type ExecTarget struct {
	exec      Execer
	container string
	user      string
	db        string
}

// NewExecTarget returns a target that runs psql in container.
func NewExecTarget(e Execer, container, user, db string) *ExecTarget {
	return &ExecTarget{exec: e, container: container, user: user, db: db}
}

func (t *ExecTarget) psql(extra ...string) []string {
	return append([]string{"psql", "-U", t.user, "-d", t.db}, extra...)
}

func (t *ExecTarget) query(ctx context.Context, stmt string) (string, error) {
	res, err := t.exec.Exec(ctx, t.container, nil, t.psql("-tAq", "-c", stmt)...)
	if err != nil {
		return "", fmt.Errorf("exec psql: %w", err)
	}
	if !res.OK() {
		return "", errors.New(strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (t *ExecTarget) Exec(ctx context.Context, stmt string) error {
	_, err := t.query(ctx, stmt)
	return err
}

func (t *ExecTarget) Versions(ctx context.Context, query string) ([]int64, error) {
	out, err := t.query(ctx, query)
	if err != nil {
		return nil, err
	}
	return parseVersions(out)
}

func (t *ExecTarget) Apply(ctx context.Context, script io.Reader) error {
	res, err := t.exec.Exec(ctx, t.container, script, t.psql("-v", "ON_ERROR_STOP=1")...)
	if err != nil {
		return fmt.Errorf("spawn psql: %w", err)
	}
	if !res.OK() {
		return errors.New(strings.TrimSpace(res.Stderr))
	}
	return nil
}

// parseVersions reads psql -tA output: one integer per line.
func parseVersions(out string) ([]int64, error) {
	var versions []int64
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected version row %q: %w", line, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// SQLTarget talks to the database over the network through database/sql.
type SQLTarget struct {
	db *sql.DB
}

// NewSQLTarget wraps an open database handle.
func NewSQLTarget(db *sql.DB) *SQLTarget {
	return &SQLTarget{db: db}
}

// OpenSQLTarget opens dsn with the pgx driver and verifies the connection.
func OpenSQLTarget(ctx context.Context, dsn string) (*SQLTarget, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLTarget{db: db}, nil
}

// Close releases the underlying handle.
func (t *SQLTarget) Close() error { return t.db.Close() }

func (t *SQLTarget) Exec(ctx context.Context, stmt string) error {
	_, err := t.db.ExecContext(ctx, stmt)
	return err
}

func (t *SQLTarget) Versions(ctx context.Context, query string) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Apply sends the script as one simple-protocol batch; the server stops at
// the first failing statement.
func (t *SQLTarget) Apply(ctx context.Context, script io.Reader) error {
	body, err := io.ReadAll(script)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	_, err = t.db.ExecContext(ctx, string(body))
	return err
}
