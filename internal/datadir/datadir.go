// Package datadir makes the stack's bind-mount directories writable by
// rootless container users.
package datadir

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"nkrypt-xyz/bootstrapper/internal/engine"
)

// Subdirs are created under the data directory, which itself comes first.
var Subdirs = []string{"", "postgres", "redis", "minio"}

const worldWritable fs.FileMode = 0o777

// Preparer creates the data directories and opens their permissions.
type Preparer struct {
	run   engine.Runner
	chmod func(path string, mode fs.FileMode) error
}

// NewPreparer returns a Preparer that falls back to run for directories the
// host user does not own.
func NewPreparer(run engine.Runner) *Preparer {
	return &Preparer{run: run, chmod: os.Chmod}
}

// Prepare creates dir and its service subdirectories and makes each one
// world-writable. Directories already owned by a container uid cannot be
// chmod'ed from the host, so those are retried through
// "podman unshare chmod 777", which runs inside the user namespace.
func (p *Preparer) Prepare(ctx context.Context, dir string) error {
	for _, sub := range Subdirs {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		err := p.chmod(path, worldWritable)
		if err == nil {
			continue
		}
		slog.DebugContext(ctx, "direct chmod failed, trying podman unshare", "path", path, "error", err)
		if err := p.unshareChmod(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (p *Preparer) unshareChmod(ctx context.Context, path string) error {
	res, err := p.run.Run(ctx, nil, "podman", "unshare", "chmod", "777", path)
	if err != nil {
		return fmt.Errorf("chmod 777 %s failed and podman unshare not available: %w", path, err)
	}
	if !res.OK() {
		return fmt.Errorf("chmod 777 %s failed (direct and via podman unshare): %s",
			path, strings.TrimSpace(res.Stderr))
	}
	return nil
}
