package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nkrypt-xyz/bootstrapper/internal/api"
	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API for the desktop shell",
	Long: `Serve starts the HTTP control API on the configured address (default 127.0.0.1:9206)
and refreshes container status in the background.

Operations requested over HTTP run one at a time in the background; their
progress is available from /api/v1/logs. The server shuts down cleanly on
SIGTERM or SIGINT.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.requireEngine(); err != nil {
		return err
	}

	snapshot := func() config.StackConfig { return cfg.Stack }
	router := api.NewRouter(app.orchestrator, app.bus, snapshot, cfg.Telemetry.ServiceName)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		status.NewMonitor(app.refresher, app.bus, app.orchestrator, cfg.Status.RefreshInterval).Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("bootstrapper server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped cleanly")
	return nil
}
