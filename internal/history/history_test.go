package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nkrypt-desktop", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordsRunWithPhases(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := orchestrator.RunResult{
		ID:        "run-1",
		Operation: orchestrator.OpStart,
		Status:    orchestrator.StatusInProgress,
		StartedAt: started,
	}
	require.NoError(t, s.StartRun(ctx, run))

	require.NoError(t, s.RecordPhase(ctx, run.ID, orchestrator.PhaseResult{
		Index: 1, Name: "stop-dependencies", Command: "docker stop postgres redis minio",
		Status: orchestrator.StatusOK, StartedAt: started, DurationMs: 120,
	}))
	require.NoError(t, s.RecordPhase(ctx, run.ID, orchestrator.PhaseResult{
		Index: 2, Name: "up-dependencies", Command: "docker up -d postgres redis minio",
		Status: orchestrator.StatusError, Error: `phase "docker ..." failed with code: 1`,
		StartedAt: started.Add(time.Second), DurationMs: 900,
	}))

	run.Status = orchestrator.StatusError
	run.Error = `phase "docker ..." failed with code: 1`
	run.FinishedAt = started.Add(2 * time.Second)
	require.NoError(t, s.FinishRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "start", got.Operation)
	assert.Equal(t, orchestrator.StatusError, got.Status)
	assert.Equal(t, run.Error, got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(run.FinishedAt))

	require.Len(t, got.Phases, 2)
	assert.Equal(t, "stop-dependencies", got.Phases[0].Name)
	assert.Equal(t, int64(900), got.Phases[1].DurationMs)
	assert.Equal(t, orchestrator.StatusError, got.Phases[1].Status)
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.StartRun(ctx, orchestrator.RunResult{
			ID: id, Operation: orchestrator.OpStop, Status: orchestrator.StatusInProgress,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestStore_GetRunUnknown(t *testing.T) {
	t.Parallel()

	_, err := openStore(t).GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FinishUnknownRun(t *testing.T) {
	t.Parallel()

	err := openStore(t).FinishRun(context.Background(), orchestrator.RunResult{ID: "missing", Status: orchestrator.StatusOK})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.StartRun(ctx, orchestrator.RunResult{
			ID: id, Operation: orchestrator.OpStart, Status: orchestrator.StatusOK,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
		require.NoError(t, s.RecordPhase(ctx, id, orchestrator.PhaseResult{Index: 1, Name: "down", Command: "docker down", Status: orchestrator.StatusOK, StartedAt: base}))
	}

	n, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}

func TestStore_RecordsThroughOrchestrator(t *testing.T) {
	t.Parallel()

	// Compile-time check that the store plugs into the orchestrator.
	var _ orchestrator.Recorder = openStore(t)
}
