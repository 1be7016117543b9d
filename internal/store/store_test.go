package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/model"
)

func newTestExecution(id string) *model.ExecutionState {
	return &model.ExecutionState{
		ExecutionID: id,
		Status:      model.StatusExecuting,
		Plan: model.Plan{
			ID: "plan-1",
			Steps: []model.PlanStep{
				{ID: "s1", StepNumber: 0},
			},
		},
		StepStates: []model.StepState{
			{StepID: "s1", Status: model.StepPending},
		},
		Context: map[string]any{},
	}
}

func TestMemoryStore_CreateAndLoad(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, newTestExecution("exec-1")))

	loaded, err := s.LoadExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", loaded.ExecutionID)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestMemoryStore_CreateExecution_RejectsDuplicate(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, newTestExecution("exec-2")))
	err := s.CreateExecution(ctx, newTestExecution("exec-2"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_Mutate_BumpsVersion(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newTestExecution("exec-3")))

	updated, err := s.Mutate(ctx, "exec-3", func(state *model.ExecutionState) error {
		state.StepStates[0].Status = model.StepCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, model.StepCompleted, updated.StepStates[0].Status)

	reloaded, err := s.LoadExecution(ctx, "exec-3")
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, reloaded.StepStates[0].Status)
}

func TestMemoryStore_Mutate_PropagatesDeltaError(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newTestExecution("exec-4")))

	boom := assert.AnError
	_, err := s.Mutate(ctx, "exec-4", func(*model.ExecutionState) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	reloaded, err := s.LoadExecution(ctx, "exec-4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Version, "failed delta must not bump the stored version")
}

func TestMemoryStore_CoarseLock_RejectsSecondHolder(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AcquireCoarseLock(ctx, "exec-5"))
	err := s.AcquireCoarseLock(ctx, "exec-5")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, s.ReleaseCoarseLock(ctx, "exec-5"))
	assert.NoError(t, s.AcquireCoarseLock(ctx, "exec-5"))
}

func TestMemoryStore_StepLock_PerStepIndependence(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AcquireStepLock(ctx, "exec-6", 0))
	require.NoError(t, s.AcquireStepLock(ctx, "exec-6", 1))
	assert.ErrorIs(t, s.AcquireStepLock(ctx, "exec-6", 0), ErrLockHeld)
}

func TestMemoryStore_CheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.ReadCheckpoint(ctx, "exec-7")
	assert.ErrorIs(t, err, ErrNotFound)

	cp := model.Checkpoint{Cursor: 2, Reason: model.ReasonTimeoutApproaching}
	require.NoError(t, s.WriteCheckpoint(ctx, "exec-7", cp))

	got, err := s.ReadCheckpoint(ctx, "exec-7")
	require.NoError(t, err)
	assert.Equal(t, cp.Cursor, got.Cursor)

	require.NoError(t, s.DeleteCheckpoint(ctx, "exec-7"))
	_, err = s.ReadCheckpoint(ctx, "exec-7")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DLQListing(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.WriteDLQEntry(ctx, DLQEntry{ExecutionID: "exec-8", RequiresHumanIntervention: true}))
	require.NoError(t, s.WriteDLQEntry(ctx, DLQEntry{ExecutionID: "exec-9"}))

	entries, err := s.ListDLQEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.DeleteDLQEntry(ctx, "exec-8"))
	entries, err = s.ListDLQEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStore_CancelTombstone(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	cancelled, err := s.IsCancelled(ctx, "exec-10")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, s.WriteCancelTombstone(ctx, "exec-10", "user requested"))
	cancelled, err = s.IsCancelled(ctx, "exec-10")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestMemoryStore_ListActive_FiltersByStatus(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	executing := newTestExecution("exec-11")
	executing.Status = model.StatusExecuting
	require.NoError(t, s.CreateExecution(ctx, executing))

	done := newTestExecution("exec-12")
	done.Status = model.StatusCompleted
	require.NoError(t, s.CreateExecution(ctx, done))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "exec-11", active[0].ExecutionID)
}
