// Package autostart installs the stack as a systemd user unit so it comes
// up on login.
package autostart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/engine"
)

// UnitName is the systemd user unit managed by this package.
const UnitName = "nkrypt-desktop.service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=nkrypt.xyz Desktop Stack
After=network-online.target
Wants=network-online.target

[Service]
Type=oneshot
RemainAfterExit=yes
WorkingDirectory={{.WorkDir}}
EnvironmentFile={{.EnvFile}}
ExecStart={{.Engine}} compose -f {{.ComposeFile}} up -d
ExecStop={{.Engine}} compose -f {{.ComposeFile}} down

[Install]
WantedBy=default.target
`))

// UnitParams fill the unit template.
type UnitParams struct {
	WorkDir     string
	EnvFile     string
	Engine      string
	ComposeFile string
}

// Render returns the unit file content.
func Render(p UnitParams) (string, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("rendering unit: %w", err)
	}
	return buf.String(), nil
}

// Manager writes, enables and disables the unit through systemctl --user.
type Manager struct {
	run engine.Runner
	dir string
	// Progress receives operator-facing lines; may be nil.
	Progress func(line string)
}

// NewManager returns a Manager writing units into dir. An empty dir means
// the user's systemd directory under the XDG config home.
func NewManager(run engine.Runner, dir string) (*Manager, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locating user config dir: %w", err)
		}
		dir = filepath.Join(base, "systemd", "user")
	}
	return &Manager{run: run, dir: dir}, nil
}

// UnitPath is the absolute path of the unit file.
func (m *Manager) UnitPath() string {
	return filepath.Join(m.dir, UnitName)
}

func (m *Manager) report(format string, args ...any) {
	if m.Progress != nil {
		m.Progress(fmt.Sprintf(format, args...))
	}
}

// Enable writes the unit for snap, reloads the user manager and enables the
// unit. enginePath should be absolute so the unit works before the login
// shell has set PATH.
func (m *Manager) Enable(ctx context.Context, snap config.StackConfig, enginePath string) error {
	content, err := Render(UnitParams{
		WorkDir:     snap.ComposeDir(),
		EnvFile:     snap.EnvFile,
		Engine:      enginePath,
		ComposeFile: snap.ComposeFile,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("creating systemd user dir: %w", err)
	}
	if err := os.WriteFile(m.UnitPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}
	m.report("Auto-start: wrote %s", m.UnitPath())

	if err := m.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	if err := m.systemctl(ctx, "enable", UnitName); err != nil {
		return err
	}
	m.report("Auto-start: enabled. Services will start automatically on login.")
	slog.InfoContext(ctx, "autostart enabled", "unit", m.UnitPath())
	return nil
}

// Disable disables the unit and removes its file. A unit that was never
// installed is not an error.
func (m *Manager) Disable(ctx context.Context) error {
	var errs []error
	if err := m.systemctl(ctx, "disable", UnitName); err != nil {
		errs = append(errs, err)
	} else {
		m.report("Auto-start: disabled.")
	}

	err := os.Remove(m.UnitPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		errs = append(errs, fmt.Errorf("removing unit file: %w", err))
	default:
		m.report("Auto-start: removed %s", m.UnitPath())
		if err := m.systemctl(ctx, "daemon-reload"); err != nil {
			slog.WarnContext(ctx, "daemon-reload after unit removal failed", "error", err)
		}
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether systemd considers the unit enabled. Any
// failure to ask counts as disabled.
func (m *Manager) IsEnabled(ctx context.Context) bool {
	res, err := m.run.Run(ctx, nil, "systemctl", "--user", "is-enabled", UnitName)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(res.Stdout) {
	case "enabled", "enabled-runtime":
		return true
	}
	return false
}

func (m *Manager) systemctl(ctx context.Context, args ...string) error {
	full := append([]string{"--user"}, args...)
	res, err := m.run.Run(ctx, nil, "systemctl", full...)
	if err != nil {
		return fmt.Errorf("systemctl %s: %w", args[0], err)
	}
	if !res.OK() {
		return fmt.Errorf("systemctl %s failed: %s", args[0], strings.TrimSpace(res.Stderr))
	}
	return nil
}
