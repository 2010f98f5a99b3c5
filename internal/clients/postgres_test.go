package clients

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nkrypt-xyz/bootstrapper/internal/config"
)

// mockRow implements pgx.Row for use in tests.
type mockRow struct {
	scanErr error
	val     any
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int); ok {
			if v, ok := r.val.(int); ok {
				*ptr = v
			}
		}
	}
	return nil
}

// mockDB implements dbPinger for use in tests.
type mockDB struct {
	pingErr  error
	queryRow pgx.Row
	closed   bool
}

func (m *mockDB) Ping(_ context.Context) error   { return m.pingErr }
func (m *mockDB) Close()                         { m.closed = true }
func (m *mockDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return m.queryRow
}

// makeClient returns a PostgresClient with a stubbed connect function.
func makeClient(db dbPinger, connectErr error, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		dsn: "postgres://u:p@127.0.0.1:9200/nkrypt?sslmode=disable",
		cb:  cb,
		connect: func(_ context.Context, _ string, _ int32) (dbPinger, error) {
			return db, connectErr
		},
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingErr    error
		scanErr    error
		connectErr error
		wantOK     bool
		wantErrSub string
	}{
		{
			name:    "ping ok and schema_migrations table exists",
			wantOK:  true,
			scanErr: nil,
			pingErr: nil,
		},
		{
			name:       "ping error",
			pingErr:    errors.New("connection refused"),
			wantOK:     false,
			wantErrSub: "ping",
		},
		{
			name:       "schema_migrations table absent",
			scanErr:    errors.New("no rows in result set"),
			wantOK:     false,
			wantErrSub: "schema_migrations",
		},
		{
			name:       "connect error",
			connectErr: errors.New("dial error"),
			wantOK:     false,
			wantErrSub: "dial error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cb := NewCircuitBreaker("test-" + tc.name)

			var client *PostgresClient
			if tc.connectErr != nil {
				client = makeClient(nil, tc.connectErr, cb)
			} else {
				db := &mockDB{
					pingErr:  tc.pingErr,
					queryRow: &mockRow{scanErr: tc.scanErr, val: 1},
				}
				client = makeClient(db, nil, cb)
			}

			result := client.Probe(context.Background())

			assert.Equal(t, "postgres", result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
			if tc.wantErrSub != "" {
				assert.Contains(t, result.Error, tc.wantErrSub)
			}
			if tc.wantOK {
				assert.Empty(t, result.Error)
			}
		})
	}
}

func TestProbeCircuitBreaker_OpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cb-open-test")

	pingErr := errors.New("connection refused")
	makeFailingClient := func() *PostgresClient {
		return makeClient(&mockDB{
			pingErr:  pingErr,
			queryRow: &mockRow{val: 1},
		}, nil, cb)
	}

	client := makeFailingClient()

	// Three consecutive failures should trip the breaker.
	for i := range 3 {
		result := client.Probe(context.Background())
		assert.False(t, result.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", result.Error,
			"probe %d should not be circuit-open yet", i+1)
	}

	// The 4th call must be rejected immediately by the open breaker.
	result := client.Probe(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "circuit open", result.Error)
}

func TestNewCircuitBreaker(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("unit-test")
	assert.NotNil(t, cb)
	assert.Equal(t, "unit-test", cb.Name())
}

func TestNewPostgresClient_UsesPublishedPort(t *testing.T) {
	t.Parallel()

	s := config.StackConfig{
		Ports:    config.PortsConfig{Postgres: 9200},
		Postgres: config.PostgresConfig{Host: "127.0.0.1", User: "nkrypt", Password: "pw", DB: "nkrypt", SSLMode: "disable", MaxConns: 2},
	}
	var gotDSN string
	var gotMax int32
	client := NewPostgresClient(s, NewCircuitBreaker("pg-dsn-test"))
	client.connect = func(_ context.Context, dsn string, maxConns int32) (dbPinger, error) {
		gotDSN, gotMax = dsn, maxConns
		return &mockDB{queryRow: &mockRow{val: 1}}, nil
	}

	result := client.Probe(context.Background())
	require.True(t, result.OK, result.Error)
	assert.Equal(t, "postgres://nkrypt:pw@127.0.0.1:9200/nkrypt?sslmode=disable", gotDSN)
	assert.Equal(t, int32(2), gotMax)
}
