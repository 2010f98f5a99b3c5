// Package readiness polls a service until it answers or a bounded attempt
// budget runs out.
package readiness

import (
	"context"
	"io"
	"time"

	"nkrypt-xyz/bootstrapper/internal/engine"
)

// Check reports whether the service is ready right now.
type Check func(ctx context.Context) bool

// Options bounds a wait.
type Options struct {
	Interval time.Duration
	Attempts int
}

// DefaultOptions is 60 attempts two seconds apart.
func DefaultOptions() Options {
	return Options{Interval: 2 * time.Second, Attempts: 60}
}

// WaitReady runs check up to opts.Attempts times, sleeping opts.Interval
// between failures. It returns the number of attempts made and whether the
// service became ready. Exhausting the budget is not an error; the caller
// decides whether to continue.
func WaitReady(ctx context.Context, check Check, opts Options) (int, bool) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if check(ctx) {
			return attempt, true
		}
		if attempt >= opts.Attempts {
			return attempt, false
		}
		t := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, false
		case <-t.C:
		}
	}
}

// Execer is satisfied by *engine.Engine.
type Execer interface {
	Exec(ctx context.Context, container string, stdin io.Reader, cmd ...string) (engine.Result, error)
}

// PostgresCheck asks pg_isready inside the database container, over the
// container's unix socket.
func PostgresCheck(e Execer, container, user, db string) Check {
	return func(ctx context.Context) bool {
		res, err := e.Exec(ctx, container, nil, "pg_isready", "-U", user, "-d", db)
		return err == nil && res.OK()
	}
}
