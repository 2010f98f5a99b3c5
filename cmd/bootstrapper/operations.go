package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nkrypt-xyz/bootstrapper/internal/events"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

var jsonResult bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stack, migrating the database before the applications",
	Long: `Start brings the stack up in four phases:
  1. stop postgres, redis and minio
  2. start them again
  3. wait for PostgreSQL and apply pending migrations
  4. start web-server and web-client

Each phase must succeed before the next one runs.`,
	Args: cobra.NoArgs,
	RunE: operationRunner(orchestrator.OpStart),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop and remove the stack's containers, keeping data",
	Args:  cobra.NoArgs,
	RunE:  operationRunner(orchestrator.OpStop),
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove all containers, volumes, networks and images of the stack",
	Args:  cobra.NoArgs,
	RunE:  operationRunner(orchestrator.OpRemove),
}

var composeCmd = &cobra.Command{
	Use:   "compose -- ARGS...",
	Short: "Run an arbitrary compose command against the stack",
	Example: `  nkrypt-desktop compose -- ps
  nkrypt-desktop compose -- logs --tail 50 web-server`,
	Args: cobra.MinimumNArgs(1),
	RunE: operationRunner(orchestrator.OpCompose),
}

func init() {
	for _, c := range []*cobra.Command{startCmd, stopCmd, removeCmd, composeCmd} {
		c.Flags().BoolVar(&jsonResult, "json", false, "print the run result as JSON when done")
	}
}

// operationRunner returns a RunE that executes op in the foreground,
// streaming progress lines to stdout. Ctrl-C lets the running phase finish
// and skips the ones after it.
func operationRunner(op orchestrator.Operation) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		if err := app.checkEngine(ctx, cmd.ErrOrStderr()); err != nil {
			return err
		}

		if !jsonResult {
			app.bus.OnEvent(printLines(out))
		}

		res, err := app.orchestrator.Run(ctx, op, cfg.Stack, args...)
		if res == nil {
			return err
		}
		// Let the consumer print everything queued before the summary.
		app.bus.Flush(ctx)

		if jsonResult {
			if encErr := writeJSON(out, res); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		return nil
	}
}

func printLines(w io.Writer) events.Handler {
	return func(e events.Event) {
		if e.Kind == events.KindLog {
			fmt.Fprintln(w, e.Line)
		}
	}
}
