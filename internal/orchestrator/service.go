// Package orchestrator sequences stack operations as ordered phases and
// guards them so only one runs at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/events"
	"nkrypt-xyz/bootstrapper/internal/migrate"
	"nkrypt-xyz/bootstrapper/internal/phase"
	"nkrypt-xyz/bootstrapper/internal/readiness"
	"nkrypt-xyz/bootstrapper/internal/status"
)

// ErrOperationInProgress is returned when an operation is requested while
// another one is still running.
var ErrOperationInProgress = errors.New("operation already in progress")

const tracerName = "nkrypt-bootstrapper"

// PhaseRunner is satisfied by *phase.Runner.
type PhaseRunner interface {
	Run(ctx context.Context, p phase.Phase, sink phase.Sink) error
}

// SchemaMigrator is satisfied by *migrate.Migrator.
type SchemaMigrator interface {
	ApplyPending(ctx context.Context) (*migrate.Result, error)
}

// StatusRefresher is satisfied by *status.Refresher.
type StatusRefresher interface {
	Refresh(ctx context.Context) ([]status.ServiceStatus, error)
}

// Publisher is satisfied by *events.Bus.
type Publisher interface {
	Publish(e events.Event)
	Line(line string)
	PublishStatus(statuses []status.ServiceStatus)
}

// Preparer is satisfied by *datadir.Preparer.
type Preparer interface {
	Prepare(ctx context.Context, dir string) error
}

// Recorder persists run history. Satisfied by *history.Store.
type Recorder interface {
	StartRun(ctx context.Context, run RunResult) error
	RecordPhase(ctx context.Context, runID string, p PhaseResult) error
	FinishRun(ctx context.Context, run RunResult) error
}

// Prober is satisfied by the clients package probes.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// Deps wires an Orchestrator. Runner, Migrators, ReadyCheck and Bus are
// required; the rest may be left nil.
type Deps struct {
	EngineName string
	Runner     PhaseRunner
	// Migrators builds the schema migrator for one run.
	Migrators func(snap config.StackConfig, progress func(string)) SchemaMigrator
	// ReadyCheck builds the database readiness check for one run.
	ReadyCheck func(snap config.StackConfig) readiness.Check
	Refresher  StatusRefresher
	Bus        Publisher
	DataDir    Preparer
	History    Recorder
	// SaveEnv persists the snapshot; defaults to config.SaveEnvFile.
	SaveEnv func(snap config.StackConfig) error
	Probers map[string]Prober
	// Sleep waits out settle delays; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration)
}

// Orchestrator runs stack operations one at a time and keeps the outcome of
// the last one.
type Orchestrator struct {
	d Deps

	inProgress atomic.Bool
	lastResult *RunResult
	resultMu   sync.RWMutex
}

// New constructs an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.SaveEnv == nil {
		d.SaveEnv = config.SaveEnvFile
	}
	if d.Sleep == nil {
		d.Sleep = sleep
	}
	return &Orchestrator{d: d}
}

// Run executes op synchronously. It returns ErrOperationInProgress without
// doing anything if another operation holds the guard, and a validation
// error if snap cannot drive any operation. Otherwise the returned error is
// the operation's failure, if any.
//
// Cancelling ctx never kills a running phase. A phase that has started runs
// to completion; cancellation only keeps the remaining phases from starting.
func (o *Orchestrator) Run(ctx context.Context, op Operation, snap config.StackConfig, args ...string) (*RunResult, error) {
	steps, err := o.prepare(op, snap, args)
	if err != nil {
		return nil, err
	}
	if !o.inProgress.CompareAndSwap(false, true) {
		return nil, ErrOperationInProgress
	}
	defer o.inProgress.Store(false)

	res := o.execute(context.WithoutCancel(ctx), ctx.Done(), op, snap, args, steps)
	if res.Status == StatusError {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// Submit starts op in the background and returns as soon as the guard is
// taken. Cancelling ctx does not stop the operation.
func (o *Orchestrator) Submit(ctx context.Context, op Operation, snap config.StackConfig, args ...string) error {
	steps, err := o.prepare(op, snap, args)
	if err != nil {
		return err
	}
	if !o.inProgress.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer o.inProgress.Store(false)
		o.execute(ctx, nil, op, snap, args, steps)
	}()
	return nil
}

func (o *Orchestrator) prepare(op Operation, snap config.StackConfig, args []string) ([]Step, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return Plan(op, snap, o.d.EngineName, args)
}

// execute runs steps in order, stopping at the first failure or, between
// steps, once interrupt is closed. ctx must not be cancelled by operator
// actions. The status refresh and the finished event happen on every path.
func (o *Orchestrator) execute(ctx context.Context, interrupt <-chan struct{}, op Operation, snap config.StackConfig, args []string, steps []Step) *RunResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "bootstrapper."+string(op))
	defer span.End()

	res := &RunResult{
		ID:        uuid.NewString(),
		Operation: op,
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	span.SetAttributes(
		attribute.String("operation.id", res.ID),
		attribute.String("operation.name", string(op)),
		attribute.Int("operation.phases", len(steps)),
	)
	slog.InfoContext(ctx, "operation started", "operation", op, "id", res.ID)
	o.d.Bus.Publish(events.Event{Kind: events.KindStarted, Operation: string(op)})
	o.record(ctx, func() error { return o.d.History.StartRun(ctx, *res) })

	o.beforeSteps(ctx, op, snap, args)

	for i, step := range steps {
		if interrupted(interrupt) {
			res.Status = StatusError
			res.Error = fmt.Sprintf("interrupted before phase %d", i+1)
			o.d.Bus.Line(fmt.Sprintf("Interrupted, phase %d and later were not started", i+1))
			break
		}
		if step.Settle > 0 {
			o.d.Sleep(ctx, step.Settle)
		}
		pr := o.runStep(ctx, i+1, step, snap)
		res.Phases = append(res.Phases, pr)
		o.record(ctx, func() error { return o.d.History.RecordPhase(ctx, res.ID, pr) })
		if pr.Status == StatusError {
			res.Status = StatusError
			res.Error = pr.Error
			break
		}
	}
	if res.Status != StatusError {
		res.Status = StatusOK
		if op == OpStart {
			o.d.Bus.Line("All phases completed successfully")
		}
	}
	res.FinishedAt = time.Now().UTC()

	o.refreshStatus(ctx)

	span.SetAttributes(attribute.String("operation.status", res.Status))
	if res.Status == StatusError {
		span.SetStatus(codes.Error, res.Error)
		slog.WarnContext(ctx, "operation failed", "operation", op, "id", res.ID, "error", res.Error)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "operation completed", "operation", op, "id", res.ID)
	}

	o.record(ctx, func() error { return o.d.History.FinishRun(ctx, *res) })
	o.d.Bus.Publish(events.Event{Kind: events.KindFinished, Operation: string(op), Err: res.Error})

	o.resultMu.Lock()
	o.lastResult = res
	o.resultMu.Unlock()
	return res
}

// beforeSteps persists the snapshot and makes the data directory usable by
// rootless containers. Neither failure stops the operation.
func (o *Orchestrator) beforeSteps(ctx context.Context, op Operation, snap config.StackConfig, args []string) {
	if err := o.d.SaveEnv(snap); err != nil {
		o.d.Bus.Line(fmt.Sprintf("WARNING: Failed to save configuration: %v", err))
		slog.WarnContext(ctx, "saving env file failed", "path", snap.EnvFile, "error", err)
	}

	if op == OpRemove {
		o.d.Bus.Line("Removing all containers, volumes, networks, and images...")
		return
	}

	if o.d.DataDir != nil {
		if err := o.d.DataDir.Prepare(ctx, snap.DataDir); err != nil {
			o.d.Bus.Line(fmt.Sprintf(
				"WARNING: Could not make data directory world-writable: %v Containers may fail to write to their volumes. Run manually: chmod -R 777 '%s'",
				err, snap.DataDir))
		} else {
			o.d.Bus.Line("Data directory permissions set (world-writable): " + snap.DataDir)
		}
	}
	o.d.Bus.Line("Running: " + CommandLine(op, snap, o.d.EngineName, args))
}

func (o *Orchestrator) runStep(ctx context.Context, n int, step Step, snap config.StackConfig) PhaseResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "bootstrapper.phase."+step.Name)
	defer span.End()

	pr := PhaseResult{Index: n, Name: step.Name, Command: step.Describe(), StartedAt: time.Now().UTC()}

	var err error
	if step.Kind == StepMigrate {
		err = o.runSchema(ctx, n, snap)
	} else {
		o.d.Bus.Line(fmt.Sprintf("Phase %d: %s", n, step.Describe()))
		err = o.d.Runner.Run(ctx, step.Phase, o.d.Bus.Line)
		var pe *phase.Error
		switch {
		case err == nil:
			o.d.Bus.Line("Phase completed successfully")
		case errors.As(err, &pe) && !pe.Spawn:
			o.d.Bus.Line(fmt.Sprintf("Phase failed with code: %d", pe.Code))
		default:
			o.d.Bus.Line(fmt.Sprintf("Failed to run phase: %v", err))
		}
	}

	pr.DurationMs = time.Since(pr.StartedAt).Milliseconds()
	if err != nil {
		pr.Status = StatusError
		pr.Error = err.Error()
		span.SetStatus(codes.Error, pr.Error)
		slog.WarnContext(ctx, "phase failed", "phase", step.Name, "error", err)
		return pr
	}
	pr.Status = StatusOK
	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "phase ok", "phase", step.Name, "duration_ms", pr.DurationMs)
	return pr
}

// runSchema waits for the database and applies pending migrations. A
// readiness timeout is reported and the migration is attempted anyway.
func (o *Orchestrator) runSchema(ctx context.Context, n int, snap config.StackConfig) error {
	o.d.Bus.Line("Waiting for PostgreSQL to be ready...")
	opts := readiness.Options{Interval: snap.Readiness.Interval, Attempts: snap.Readiness.Attempts}
	attempts, ok := readiness.WaitReady(ctx, o.d.ReadyCheck(snap), opts)
	if ok {
		o.d.Bus.Line("PostgreSQL is ready")
	} else {
		o.d.Bus.Line(fmt.Sprintf("WARNING: PostgreSQL not ready after %d attempts, attempting migrations anyway", attempts))
	}

	o.d.Bus.Line(fmt.Sprintf("Phase %d: migrate (via psql inside container)", n))
	if _, err := o.d.Migrators(snap, o.d.Bus.Line).ApplyPending(ctx); err != nil {
		o.d.Bus.Line(fmt.Sprintf("Phase %d failed: %v", n, err))
		return err
	}
	o.d.Bus.Line(fmt.Sprintf("Phase %d completed successfully", n))
	return nil
}

func (o *Orchestrator) refreshStatus(ctx context.Context) {
	if o.d.Refresher == nil {
		return
	}
	statuses, err := o.d.Refresher.Refresh(ctx)
	if err != nil {
		slog.WarnContext(ctx, "status refresh failed", "error", err)
		return
	}
	o.d.Bus.PublishStatus(statuses)
}

// record runs a history write when history is enabled. History failures are
// logged and never fail the operation.
func (o *Orchestrator) record(ctx context.Context, fn func() error) {
	if o.d.History == nil {
		return
	}
	if err := fn(); err != nil {
		slog.WarnContext(ctx, "recording history failed", "error", err)
	}
}

// RunDeepHealth probes every configured dependency concurrently and returns
// a map of dependency name to ProbeResult.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(o.d.Probers))
	var mu sync.Mutex
	var g errgroup.Group

	for name, p := range o.d.Probers {
		g.Go(func() error {
			probe := p.Probe(ctx)
			mu.Lock()
			results[name] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// InProgress returns true while an operation is running.
func (o *Orchestrator) InProgress() bool {
	return o.inProgress.Load()
}

// LastResult returns the outcome of the most recent operation, if any.
func (o *Orchestrator) LastResult() (RunResult, bool) {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	if o.lastResult == nil {
		return RunResult{}, false
	}
	return *o.lastResult, true
}

// IsReady returns true if the last operation was a start that completed
// with StatusOK.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.Operation == OpStart && o.lastResult.Status == StatusOK
}

func interrupted(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
