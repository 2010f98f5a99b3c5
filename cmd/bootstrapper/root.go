package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/telemetry"
)

var (
	cfgFile  string
	logLevel string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext
)

var rootCmd = &cobra.Command{
	Use:   "nkrypt-desktop",
	Short: "Bootstrap and manage the nkrypt desktop container stack",
	Long: `nkrypt-desktop drives the local nkrypt stack (PostgreSQL, Redis, MinIO,
web-server and web-client) through docker or podman compose.

It starts the stack in dependency order, applies database migrations,
reports container health and can install a systemd user unit so the stack
comes up at login.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides telemetry.log_level")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, err := initLogger(logLevel, ""); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		}
		closer, err := initLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFile)
		if err != nil {
			return err
		}

		app, err = buildAppContext(cfg, closer)
		if err != nil {
			return fmt.Errorf("building app context: %w", err)
		}
		return nil
	}

	rootCmd.AddCommand(
		startCmd, stopCmd, removeCmd, composeCmd,
		migrateCmd, statusCmd, doctorCmd,
		autostartCmd, historyCmd, serveCmd,
	)
}

// Execute is the entry point called by main.
func Execute() {
	err := rootCmd.Execute()
	if app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		app.Close(ctx)
		cancel()
	}
	if err != nil {
		os.Exit(1)
	}
}

// initLogger installs the default logger. Records go to stderr so command
// output on stdout stays machine-readable.
func initLogger(level, logFile string) (io.Closer, error) {
	logger, closer, err := telemetry.NewLogger(os.Stderr, level, logFile)
	if err != nil {
		return nil, fmt.Errorf("initialising logger: %w", err)
	}
	slog.SetDefault(logger)
	return closer, nil
}
