package phase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a concurrency-safe Sink.
type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) sink(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func shell(script string) Phase {
	return Phase{Name: "sh", Args: []string{"-c", script}}
}

func TestRun_StreamsBothChannels(t *testing.T) {
	t.Parallel()

	c := &collector{}
	err := (&Runner{}).Run(context.Background(), shell("echo one; echo two >&2; echo three"), c.sink)
	require.NoError(t, err)

	got := c.all()
	assert.ElementsMatch(t, []string{"one", "two", "three"}, got)

	// Within stdout, order is preserved.
	var stdout []string
	for _, l := range got {
		if l != "two" {
			stdout = append(stdout, l)
		}
	}
	assert.Equal(t, []string{"one", "three"}, stdout)
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	c := &collector{}
	err := (&Runner{}).Run(context.Background(), shell("echo boom >&2; exit 3"), c.sink)
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Code)
	assert.False(t, pe.Spawn)
	assert.Equal(t, []string{"boom"}, pe.Stderr)
	assert.Contains(t, err.Error(), "failed with code: 3")
	assert.Equal(t, []string{"boom"}, c.all())
}

func TestRun_SpawnFailure(t *testing.T) {
	t.Parallel()

	err := (&Runner{}).Run(context.Background(), Phase{Name: "definitely-not-a-real-binary-xyz"}, nil)
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Spawn)
	assert.Equal(t, -1, pe.Code)
	assert.Contains(t, err.Error(), "failed to run phase")
}

func TestRun_DetachedContextOutlivesCaller(t *testing.T) {
	t.Parallel()

	caller, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	c := &collector{}
	err := (&Runner{}).Run(context.WithoutCancel(caller), shell("sleep 0.5; echo finished"), c.sink)
	require.NoError(t, err)
	assert.Error(t, caller.Err())
	assert.Equal(t, []string{"finished"}, c.all())
}

func TestRun_EnvironmentOverridesInherited(t *testing.T) {
	t.Parallel()

	r := &Runner{Environ: func() []string {
		return []string{"PATH=/usr/bin:/bin", "POSTGRES_PORT=1111", "KEEP=yes"}
	}}
	p := shell(`echo "$POSTGRES_PORT $KEEP $DATA_DIR"`)
	p.Env = map[string]string{"POSTGRES_PORT": "9200", "DATA_DIR": "/data"}

	c := &collector{}
	require.NoError(t, r.Run(context.Background(), p, c.sink))
	assert.Equal(t, []string{"9200 yes /data"}, c.all())
}

func TestRun_WorkingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := shell("pwd")
	p.Dir = dir

	c := &collector{}
	require.NoError(t, (&Runner{}).Run(context.Background(), p, c.sink))
	require.Len(t, c.all(), 1)
	assert.True(t, strings.HasSuffix(c.all()[0], dir[strings.LastIndex(dir, "/"):]))
}

func TestRun_LargeOutputDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	var n int
	var mu sync.Mutex
	sink := func(string) {
		mu.Lock()
		n++
		mu.Unlock()
	}
	err := (&Runner{}).Run(context.Background(),
		shell(`i=0; while [ $i -lt 5000 ]; do echo "line $i"; echo "err $i" >&2; i=$((i+1)); done`), sink)
	require.NoError(t, err)
	assert.Equal(t, 10000, n)
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	p := Phase{Name: "docker", Args: []string{"compose", "-f", "x.yml", "down"}}
	assert.Equal(t, "docker compose -f x.yml down", p.String())
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("exit status 2")
	err := &Error{Phase: "p", Code: 2, Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestTail_KeepsLastLines(t *testing.T) {
	t.Parallel()

	tl := newTail(2)
	for _, l := range []string{"a", "b", "c"} {
		tl.add(l)
	}
	assert.Equal(t, []string{"b", "c"}, tl.lines())
}
