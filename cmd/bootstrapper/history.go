package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyKeep   int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(historyOutput)
		if err != nil {
			return err
		}
		if err := requireHistory(); err != nil {
			return err
		}
		runs, err := app.history.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), format, runs, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ID\tOPERATION\tSTATUS\tSTARTED\tDURATION\tERROR")
			for _, r := range runs {
				duration := "-"
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Operation, r.Status, r.StartedAt.Local().Format(time.DateTime), duration, r.Error)
			}
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show one operation with its phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(historyOutput)
		if err != nil {
			return err
		}
		if err := requireHistory(); err != nil {
			return err
		}
		run, err := app.history.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), format, run, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "%s %s: %s\n", run.Operation, run.ID, run.Status)
			fmt.Fprintln(tw, "#\tPHASE\tSTATUS\tDURATION\tCOMMAND")
			for _, p := range run.Phases {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%dms\t%s\n", p.Index, p.Name, p.Status, p.DurationMs, p.Command)
			}
			if run.Error != "" {
				fmt.Fprintf(tw, "error: %s\n", run.Error)
			}
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireHistory(); err != nil {
			return err
		}
		n, err := app.history.Prune(cmd.Context(), historyKeep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s)\n", n)
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().StringVarP(&historyOutput, "output", "o", "table", "output format: table, json or yaml")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyPruneCmd.Flags().IntVar(&historyKeep, "keep", 50, "number of runs to keep")
	historyCmd.AddCommand(historyShowCmd, historyPruneCmd)
}

func requireHistory() error {
	if app.history == nil {
		return errors.New("run history is disabled or unavailable (history.enabled, history.path)")
	}
	return nil
}
