package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nkrypt-xyz/bootstrapper/internal/autostart"
	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/engine"
)

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage the systemd user unit that starts the stack at login",
}

var autostartEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Install and enable " + autostart.UnitName,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.requireEngine(); err != nil {
			return err
		}
		// The unit reads the .env file, so persist the snapshot first.
		if err := config.SaveEnvFile(cfg.Stack); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		m, err := newAutostartManager(cmd)
		if err != nil {
			return err
		}
		return m.Enable(cmd.Context(), cfg.Stack, app.engine.Path)
	},
}

var autostartDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable and remove " + autostart.UnitName,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newAutostartManager(cmd)
		if err != nil {
			return err
		}
		return m.Disable(cmd.Context())
	},
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the unit is enabled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newAutostartManager(cmd)
		if err != nil {
			return err
		}
		state := "disabled"
		if m.IsEnabled(cmd.Context()) {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", autostart.UnitName, state, m.UnitPath())
		return nil
	},
}

func init() {
	autostartCmd.AddCommand(autostartEnableCmd, autostartDisableCmd, autostartStatusCmd)
}

func newAutostartManager(cmd *cobra.Command) (*autostart.Manager, error) {
	m, err := autostart.NewManager(engine.ExecRunner{}, "")
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	m.Progress = func(line string) { fmt.Fprintln(out, line) }
	return m, nil
}
