package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"nkrypt-xyz/bootstrapper/internal/clients"
	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/datadir"
	"nkrypt-xyz/bootstrapper/internal/engine"
	"nkrypt-xyz/bootstrapper/internal/events"
	"nkrypt-xyz/bootstrapper/internal/history"
	"nkrypt-xyz/bootstrapper/internal/migrate"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
	"nkrypt-xyz/bootstrapper/internal/phase"
	"nkrypt-xyz/bootstrapper/internal/readiness"
	"nkrypt-xyz/bootstrapper/internal/status"
	"nkrypt-xyz/bootstrapper/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE and released in
// PersistentPostRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	logCloser    io.Closer

	// engine is nil when detection failed; engineErr says why.
	engine    *engine.Engine
	engineErr error

	bus          *events.Bus
	stopBus      context.CancelFunc
	busDone      chan struct{}
	refresher    *status.Refresher
	history      *history.Store
	orchestrator *orchestrator.Orchestrator
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Detects the container engine
//  3. Starts the event bus consumer
//  4. Opens the run history
//  5. Creates one circuit breaker per probe and the orchestrator
func buildAppContext(cfg *config.Config, logCloser io.Closer) (*AppContext, error) {
	app := &AppContext{cfg: cfg, logCloser: logCloser}

	// A missing collector must never block startup.
	tp, err := telemetry.InitProvider(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		tp = &telemetry.Provider{}
	}
	app.otelProvider = tp
	if !tp.Enabled() {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	}

	app.engine, app.engineErr = engine.Detect(cfg.Stack.Engine)
	if app.engineErr != nil {
		slog.Debug("container engine not available", "err", app.engineErr)
	}

	busCtx, cancel := context.WithCancel(context.Background())
	app.bus = events.NewBus(events.NewLog(), 0)
	app.stopBus = cancel
	app.busDone = make(chan struct{})
	go func() {
		defer close(app.busDone)
		app.bus.Run(busCtx)
	}()

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			// History is a convenience; operations run without it.
			slog.Warn("run history unavailable", "path", cfg.History.Path, "err", err)
		} else {
			app.history = store
		}
	}

	if app.engine != nil {
		app.refresher = status.NewRefresher(app.engine, cfg.Stack.ContainerPrefix, status.Descriptors(cfg.Stack))
		app.orchestrator = orchestrator.New(app.orchestratorDeps())
	}

	return app, nil
}

func (app *AppContext) orchestratorDeps() orchestrator.Deps {
	eng := app.engine
	d := orchestrator.Deps{
		EngineName: eng.Name,
		Runner:     &phase.Runner{},
		Migrators: func(snap config.StackConfig, progress func(string)) orchestrator.SchemaMigrator {
			return migrate.New(execTarget(eng, snap), snap.MigrationsDir, progress)
		},
		ReadyCheck: func(snap config.StackConfig) readiness.Check {
			return readiness.PostgresCheck(eng, snap.ContainerName("postgres"), snap.Postgres.User, snap.Postgres.DB)
		},
		Refresher: app.refresher,
		Bus:       app.bus,
		DataDir:   datadir.NewPreparer(engine.ExecRunner{}),
		Probers:   probers(app.cfg.Stack),
	}
	if app.history != nil {
		d.History = app.history
	}
	return d
}

// probers builds one probe per stack dependency, each behind its own
// circuit breaker so each dependency trips independently.
func probers(s config.StackConfig) map[string]orchestrator.Prober {
	return map[string]orchestrator.Prober{
		"postgres":   clients.NewPostgresClient(s, clients.NewCircuitBreaker("postgres")),
		"redis":      clients.NewRedisClient(s, clients.NewCircuitBreaker("redis")),
		"minio":      clients.NewMinIOClient(s, clients.NewCircuitBreaker("minio")),
		"web-server": clients.NewWebServerProbe(s, clients.NewCircuitBreaker("web-server")),
		"web-client": clients.NewWebClientProbe(s, clients.NewCircuitBreaker("web-client")),
	}
}

func execTarget(eng *engine.Engine, snap config.StackConfig) *migrate.ExecTarget {
	return migrate.NewExecTarget(eng, snap.ContainerName("postgres"), snap.Postgres.User, snap.Postgres.DB)
}

// requireEngine returns the detection failure for commands that drive the
// container engine.
func (app *AppContext) requireEngine() error {
	if app.engine == nil {
		if app.engineErr == nil {
			return engine.ErrToolMissing
		}
		return app.engineErr
	}
	return nil
}

// checkEngine verifies the engine is usable before an operation and prints
// the remediation hint when it is not.
func (app *AppContext) checkEngine(ctx context.Context, w io.Writer) error {
	if err := app.requireEngine(); err != nil {
		return err
	}
	if err := app.engine.CheckReady(ctx); err != nil {
		var ue *engine.UnreachableError
		if errors.As(err, &ue) && ue.Hint() != "" {
			fmt.Fprintln(w, ue.Hint())
		}
		return err
	}
	return nil
}

// Close drains the event bus and releases telemetry, history and the log
// file, in that order.
func (app *AppContext) Close(ctx context.Context) {
	app.stopBus()
	select {
	case <-app.busDone:
	case <-ctx.Done():
	}

	if err := app.otelProvider.Shutdown(ctx); err != nil {
		slog.Warn("OTEL shutdown error", "err", err)
	}
	if app.history != nil {
		if err := app.history.Close(); err != nil {
			slog.Warn("closing history failed", "err", err)
		}
	}
	if app.logCloser != nil {
		app.logCloser.Close() //nolint:errcheck
	}
}
