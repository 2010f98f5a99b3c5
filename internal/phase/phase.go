// Package phase runs one external command to completion while streaming its
// stdout and stderr, line by line, into a log sink.
package phase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	maxLineBytes = 1024 * 1024
	stderrTail   = 20
)

// Sink receives output lines. It must be safe for concurrent use: stdout and
// stderr lines arrive from separate goroutines.
type Sink func(line string)

// Phase is one external command of an operation. Phases are built fresh for
// every run and never mutated afterwards.
type Phase struct {
	// Label is the operator-facing description, e.g. "up -d postgres redis minio".
	Label string
	Name  string
	Args  []string
	Dir   string
	// Env is applied on top of the process environment; later keys win.
	Env map[string]string
}

func (p Phase) String() string {
	return strings.TrimSpace(p.Name + " " + strings.Join(p.Args, " "))
}

// Environ returns the environment the phase process will see.
func (p Phase) Environ(base []string) []string {
	env := make([]string, 0, len(base)+len(p.Env))
	env = append(env, base...)
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.Env[k])
	}
	return env
}

// Error reports a phase that could not be started or exited non-zero.
type Error struct {
	Phase string
	// Code is the exit code; -1 when the process never ran or was killed.
	Code int
	// Spawn is true when the process could not be started at all.
	Spawn bool
	// Stderr holds the last lines the process wrote to stderr.
	Stderr []string
	Err    error
}

func (e *Error) Error() string {
	if e.Spawn {
		return fmt.Sprintf("failed to run phase %q: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %q failed with code: %d", e.Phase, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes phases. The zero value uses the current process environment.
type Runner struct {
	// Environ supplies the inherited environment; defaults to os.Environ.
	Environ func() []string
}

// Run spawns the phase and forwards every output line to sink as soon as it
// is read. It returns only after both streams hit EOF and the process has
// exited. Line order is preserved within a stream, not across streams.
// Cancelling ctx kills the process, so the orchestrator hands it a context
// detached from operator cancellation.
func (r *Runner) Run(ctx context.Context, p Phase, sink Sink) error {
	environ := os.Environ
	if r != nil && r.Environ != nil {
		environ = r.Environ
	}

	cmd := exec.CommandContext(ctx, p.Name, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = p.Environ(environ())

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Phase: p.String(), Code: -1, Spawn: true, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &Error{Phase: p.String(), Code: -1, Spawn: true, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &Error{Phase: p.String(), Code: -1, Spawn: true, Err: err}
	}

	tail := newTail(stderrTail)

	// Both readers must drain before Wait closes the pipes.
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, sink, nil) })
	g.Go(func() error { return drain(stderr, sink, tail) })
	readErr := g.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &Error{Phase: p.String(), Code: code, Stderr: tail.lines(), Err: waitErr}
	}
	if readErr != nil {
		return fmt.Errorf("reading output of %q: %w", p.String(), readErr)
	}
	return nil
}

// drain forwards lines from r. On a scan error the remainder is discarded so
// the child never blocks on a full pipe.
func drain(r io.Reader, sink Sink, tail *tail) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if tail != nil {
			tail.add(line)
		}
		if sink != nil {
			sink(line)
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// tail keeps the last n lines written to it.
type tail struct {
	mu  sync.Mutex
	n   int
	buf []string
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.buf...)
}
