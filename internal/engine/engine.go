// Package engine adapts the container engine CLI (docker or podman) used to
// drive the compose stack, inspect containers and exec into them.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// candidates are probed in order; the first one on PATH wins.
var candidates = []string{"docker", "podman"}

// ListFormat is the ps template whose output ParseListing understands.
const ListFormat = "{{.Names}}\t{{.Status}}"

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner executes a command to completion. A non-nil error means the process
// could not be started; a non-zero exit is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (Result, error)
}

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, err
	}
}

// Engine is a detected container engine CLI.
type Engine struct {
	// Name is the executable name ("docker" or "podman").
	Name string
	// Path is the resolved absolute path, used where a full path is required
	// (systemd units).
	Path string

	run Runner
}

// New returns an Engine for a known executable without probing PATH.
func New(name, path string, run Runner) *Engine {
	if run == nil {
		run = ExecRunner{}
	}
	if path == "" {
		path = name
	}
	return &Engine{Name: name, Path: path, run: run}
}

// Detect finds the container engine. When preferred is non-empty only that
// executable is considered.
func Detect(preferred string) (*Engine, error) {
	return detect(preferred, exec.LookPath, ExecRunner{})
}

func detect(preferred string, lookPath func(string) (string, error), run Runner) (*Engine, error) {
	names := candidates
	if preferred != "" {
		names = []string{preferred}
	}
	for _, name := range names {
		path, err := lookPath(name)
		if err != nil {
			continue
		}
		slog.Debug("container engine detected", "engine", name, "path", path)
		return New(name, path, run), nil
	}
	return nil, ErrToolMissing
}

// CheckReady verifies the engine answers `info` and ships the compose
// subcommand. Failures are *UnreachableError values carrying an operator hint.
func (e *Engine) CheckReady(ctx context.Context) error {
	res, err := e.Run(ctx, nil, "info")
	if err != nil {
		return &UnreachableError{Engine: e.Name, Reason: ReasonFailed, Detail: err.Error()}
	}
	if !res.OK() {
		reason := Classify(res.Stderr)
		return &UnreachableError{Engine: e.Name, Reason: reason, Detail: strings.TrimSpace(res.Stderr)}
	}

	res, err = e.Run(ctx, nil, "compose", "version")
	if err != nil || !res.OK() {
		return &UnreachableError{Engine: e.Name, Reason: ReasonComposeMissing, Detail: strings.TrimSpace(res.Stderr)}
	}
	return nil
}

// Run invokes the engine with args.
func (e *Engine) Run(ctx context.Context, stdin io.Reader, args ...string) (Result, error) {
	res, err := e.run.Run(ctx, stdin, e.Name, args...)
	if err != nil {
		return res, fmt.Errorf("running %s %s: %w", e.Name, strings.Join(args, " "), err)
	}
	return res, nil
}

// Exec runs cmd inside container. When stdin is non-nil the engine is asked
// to keep it open (-i).
func (e *Engine) Exec(ctx context.Context, container string, stdin io.Reader, cmd ...string) (Result, error) {
	args := []string{"exec"}
	if stdin != nil {
		args = append(args, "-i")
	}
	args = append(args, container)
	args = append(args, cmd...)
	return e.Run(ctx, stdin, args...)
}

// ListContainers lists every container, running or not, whose name matches
// prefix, formatted as "<name>\t<status>" lines.
func (e *Engine) ListContainers(ctx context.Context, prefix string) (Result, error) {
	return e.Run(ctx, nil, "ps", "-a", "--filter", "name="+prefix, "--format", ListFormat)
}

// ComposeArgs builds `compose -f <file> <sub...>`.
func ComposeArgs(file string, sub ...string) []string {
	args := make([]string, 0, 3+len(sub))
	args = append(args, "compose", "-f", file)
	return append(args, sub...)
}
