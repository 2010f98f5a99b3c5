package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nkrypt-xyz/bootstrapper/internal/migrate"
)

var (
	migrateVia    string
	migrateOutput string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Migrate applies every *.up.sql file in stack.migrations_dir that is not yet
recorded in schema_migrations, in numeric version order.

--via exec (default) runs psql inside the postgres container.
--via network connects to the published port with the pgx driver.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations with their applied, pending or dirty state",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateVia, "via", "exec", "how to reach the database: exec or network")
	migrateStatusCmd.Flags().StringVarP(&migrateOutput, "output", "o", "table", "output format: table, json or yaml")
	migrateCmd.AddCommand(migrateStatusCmd)
}

// withMigrator opens the target selected by --via and releases it after fn.
func withMigrator(ctx context.Context, progress func(string), fn func(m *migrate.Migrator) error) error {
	snap := cfg.Stack
	switch migrateVia {
	case "exec":
		if err := app.requireEngine(); err != nil {
			return err
		}
		return fn(migrate.New(execTarget(app.engine, snap), snap.MigrationsDir, progress))
	case "network":
		target, err := migrate.OpenSQLTarget(ctx, snap.DatabaseURL())
		if err != nil {
			return err
		}
		defer target.Close() //nolint:errcheck
		return fn(migrate.New(target, snap.MigrationsDir, progress))
	default:
		return fmt.Errorf("unknown --via %q (exec, network)", migrateVia)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	progress := func(line string) { fmt.Fprintln(out, line) }

	return withMigrator(cmd.Context(), progress, func(m *migrate.Migrator) error {
		res, err := m.ApplyPending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Applied %d, skipped %d, tolerated %d\n", len(res.Applied), len(res.Skipped), len(res.Tolerated))
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(migrateOutput)
	if err != nil {
		return err
	}
	return withMigrator(cmd.Context(), nil, func(m *migrate.Migrator) error {
		files, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), format, files, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
			for _, f := range files {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", f.Version, f.Name, f.State)
			}
		})
	})
}
