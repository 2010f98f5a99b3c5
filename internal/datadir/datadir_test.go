package datadir

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nkrypt-xyz/bootstrapper/internal/engine"
)

type fakeRunner struct {
	calls  [][]string
	result engine.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ io.Reader, name string, args ...string) (engine.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.result, f.err
}

func TestPrepare_CreatesWorldWritableDirs(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nkrypt-xyz-data")
	run := &fakeRunner{}
	require.NoError(t, NewPreparer(run).Prepare(context.Background(), dir))

	for _, sub := range Subdirs {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, fs.FileMode(0o777), info.Mode().Perm(), sub)
	}
	assert.Empty(t, run.calls, "no fallback needed")
}

func TestPrepare_FallsBackToPodmanUnshare(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	run := &fakeRunner{}
	p := NewPreparer(run)
	p.chmod = func(path string, mode fs.FileMode) error {
		if filepath.Base(path) == "postgres" {
			return fs.ErrPermission
		}
		return os.Chmod(path, mode)
	}

	require.NoError(t, p.Prepare(context.Background(), dir))
	assert.Equal(t, [][]string{
		{"podman", "unshare", "chmod", "777", filepath.Join(dir, "postgres")},
	}, run.calls)
}

func TestPrepare_FallbackFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		run     *fakeRunner
		wantSub string
	}{
		{
			name:    "podman missing",
			run:     &fakeRunner{err: errors.New(`exec: "podman": executable file not found in $PATH`)},
			wantSub: "podman unshare not available",
		},
		{
			name:    "unshare fails",
			run:     &fakeRunner{result: engine.Result{ExitCode: 1, Stderr: "Operation not permitted\n"}},
			wantSub: "(direct and via podman unshare): Operation not permitted",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := NewPreparer(tc.run)
			p.chmod = func(string, fs.FileMode) error { return fs.ErrPermission }

			err := p.Prepare(context.Background(), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
			assert.Len(t, tc.run.calls, 1, "stops at the first directory")
		})
	}
}
