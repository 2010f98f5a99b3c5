package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nkrypt-xyz/bootstrapper/internal/composefile"
	"nkrypt-xyz/bootstrapper/internal/engine"
	"nkrypt-xyz/bootstrapper/internal/migrate"
)

var doctorOutput string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the stack can be started from this machine",
	Long: `Doctor validates the configuration, the container engine, the compose
file and the migrations directory without changing anything. It exits
non-zero when any check fails.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVarP(&doctorOutput, "output", "o", "table", "output format: table, json or yaml")
}

type checkResult struct {
	Check  string `json:"check" yaml:"check"`
	OK     bool   `json:"ok" yaml:"ok"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Hint   string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(doctorOutput)
	if err != nil {
		return err
	}

	results := diagnose(cmd.Context())
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}

	err = render(cmd.OutOrStdout(), format, results, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "CHECK\tRESULT\tDETAIL")
		for _, r := range results {
			verdict := "ok"
			if !r.OK {
				verdict = "FAIL"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Check, verdict, r.Detail)
			if r.Hint != "" {
				fmt.Fprintf(tw, "\t\t%s\n", r.Hint)
			}
		}
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func diagnose(ctx context.Context) []checkResult {
	snap := cfg.Stack
	var results []checkResult

	cr := checkResult{Check: "config", OK: true, Detail: "data dir " + snap.DataDir}
	if err := snap.Validate(); err != nil {
		cr = checkResult{Check: "config", Detail: err.Error()}
	}
	results = append(results, cr)

	cr = checkResult{Check: "engine", OK: true}
	if err := app.requireEngine(); err != nil {
		cr.OK, cr.Detail = false, err.Error()
	} else if err := app.engine.CheckReady(ctx); err != nil {
		cr.OK, cr.Detail = false, err.Error()
		var ue *engine.UnreachableError
		if errors.As(err, &ue) {
			cr.Hint = ue.Hint()
		}
	} else {
		cr.Detail = app.engine.Path
	}
	results = append(results, cr)

	cr = checkResult{Check: "compose file", OK: true, Detail: snap.ComposeFile}
	if project, err := composefile.Load(ctx, snap); err != nil {
		cr.OK, cr.Detail = false, err.Error()
	} else if problems := composefile.Check(project, snap); len(problems) > 0 {
		cr.OK, cr.Detail = false, problems[0].String()
		if len(problems) > 1 {
			cr.Detail += fmt.Sprintf(" (and %d more)", len(problems)-1)
		}
	}
	results = append(results, cr)

	cr = checkResult{Check: "migrations", OK: true}
	if files, err := migrate.Scan(snap.MigrationsDir); err != nil {
		cr.OK, cr.Detail = false, err.Error()
	} else {
		cr.Detail = fmt.Sprintf("%d file(s) in %s", len(files), snap.MigrationsDir)
	}
	results = append(results, cr)

	cr = checkResult{Check: "data dir", OK: true, Detail: snap.DataDir}
	if _, err := os.Stat(snap.DataDir); errors.Is(err, os.ErrNotExist) {
		cr.Detail += " (created on first start)"
	} else if err != nil {
		cr.OK, cr.Detail = false, err.Error()
	}
	results = append(results, cr)

	return results
}
