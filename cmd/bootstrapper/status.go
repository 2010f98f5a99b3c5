package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nkrypt-xyz/bootstrapper/internal/status"
)

var (
	statusOutput string
	statusWatch  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every stack container",
	Long: `Status lists the five stack containers with their engine status text,
a health verdict and the host port each one publishes. Containers that do
not exist are reported as "not found".

With --watch the report is reprinted on the status.refresh_interval until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table, json or yaml")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep refreshing until interrupted")
}

type statusReport struct {
	Services   []status.ServiceStatus `json:"services" yaml:"services"`
	AllHealthy bool                   `json:"allHealthy" yaml:"allHealthy"`
}

// reportPrinter satisfies status.Publisher for --watch.
type reportPrinter struct {
	w      io.Writer
	format outputFormat
}

func (p reportPrinter) PublishStatus(statuses []status.ServiceStatus) {
	if err := printStatus(p.w, p.format, statuses); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(statusOutput)
	if err != nil {
		return err
	}
	if err := app.requireEngine(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if statusWatch {
		status.NewMonitor(app.refresher, reportPrinter{w: cmd.OutOrStdout(), format: format}, app.orchestrator, cfg.Status.RefreshInterval).Run(ctx)
		return nil
	}

	statuses, err := app.refresher.Refresh(ctx)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), format, statuses)
}

func printStatus(w io.Writer, format outputFormat, statuses []status.ServiceStatus) error {
	report := statusReport{Services: statuses, AllHealthy: status.AllHealthy(statuses)}
	return render(w, format, report, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "SERVICE\tCONTAINER\tSTATUS\tHEALTHY\tPORT\tURL")
		for _, s := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", s.Name, s.Container, s.Status, s.Healthy, s.Port, s.URL)
		}
	})
}
