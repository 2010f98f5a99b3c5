package clients

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

const postgresProbeName = "postgres"

// dbPinger abstracts the pgxpool.Pool methods used in Probe so that tests
// can inject a fake without standing up a real database.
type dbPinger interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresClient probes the stack database from the host through its
// published port.
type PostgresClient struct {
	dsn      string
	maxConns int32
	cb       *gobreaker.CircuitBreaker
	connect  func(ctx context.Context, dsn string, maxConns int32) (dbPinger, error)
}

// NewPostgresClient creates a PostgresClient that opens a short-lived pgx
// pool on every Probe. No connection is made at construction time.
func NewPostgresClient(s config.StackConfig, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		dsn:      s.DatabaseURL(),
		maxConns: s.Postgres.MaxConns,
		cb:       cb,
		connect:  realConnect,
	}
}

// Probe pings the database and verifies the schema_migrations table exists,
// i.e. that at least one migration run has reached it.
func (c *PostgresClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return guardedProbe(c.cb, postgresProbeName, func() error {
		pool, err := c.connect(ctx, c.dsn, c.maxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		var exists int
		row := pool.QueryRow(ctx,
			"SELECT 1 FROM information_schema.tables WHERE table_schema='public' AND table_name='schema_migrations'",
		)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("schema_migrations table not found: %w", err)
		}
		return nil
	})
}

func realConnect(ctx context.Context, dsn string, maxConns int32) (dbPinger, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	return pool, nil
}
