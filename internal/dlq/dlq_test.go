package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/store"
)

func seedStalledExecution(t *testing.T, st store.Store, id string, idleSince time.Time, status model.ExecutionStatus) {
	t.Helper()
	state := &model.ExecutionState{
		ExecutionID: id,
		Status:      status,
		Plan:        model.Plan{ID: "plan-1", Steps: []model.PlanStep{{ID: "step-1", StepNumber: 1, ToolName: "book.table"}}},
		StepStates: []model.StepState{
			{StepID: "step-1", Status: model.StepFailed},
		},
		CreatedAt:      idleSince,
		UpdatedAt:      idleSince,
		LastActivityAt: idleSince,
	}
	require.NoError(t, st.CreateExecution(context.Background(), state))
}

func TestEvaluate_MovesStalledExecutionToDLQ(t *testing.T) {
	st := store.NewMemoryStore()
	seedStalledExecution(t, st, "exec-1", time.Now().Add(-20*time.Minute), model.StatusAwaitingResume)

	m := New(st, eventbus.NewBus(), nil, WithInactivityThreshold(15*time.Minute))
	m.scanOnce(context.Background())

	entry, err := st.ReadDLQEntry(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, entry.RequiresHumanIntervention)
	assert.Equal(t, []string{"step-1"}, entry.FailedStepIDs)
}

func TestEvaluate_LeavesFreshExecutionAlone(t *testing.T) {
	st := store.NewMemoryStore()
	seedStalledExecution(t, st, "exec-1", time.Now(), model.StatusExecuting)

	m := New(st, eventbus.NewBus(), nil, WithInactivityThreshold(15*time.Minute))
	m.scanOnce(context.Background())

	_, err := st.ReadDLQEntry(context.Background(), "exec-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResumeFromDLQ_RemovesEntry(t *testing.T) {
	st := store.NewMemoryStore()
	seedStalledExecution(t, st, "exec-1", time.Now().Add(-time.Hour), model.StatusAwaitingResume)

	m := New(st, eventbus.NewBus(), nil, WithInactivityThreshold(15*time.Minute))
	m.scanOnce(context.Background())

	require.NoError(t, m.ResumeFromDLQ(context.Background(), "exec-1"))
	_, err := st.ReadDLQEntry(context.Background(), "exec-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelFromDLQ_WritesTombstoneAndRemovesEntry(t *testing.T) {
	st := store.NewMemoryStore()
	seedStalledExecution(t, st, "exec-1", time.Now().Add(-time.Hour), model.StatusAwaitingResume)

	m := New(st, eventbus.NewBus(), nil, WithInactivityThreshold(15*time.Minute))
	m.scanOnce(context.Background())

	require.NoError(t, m.CancelFromDLQ(context.Background(), "exec-1", "abandoned by operator"))
	_, err := st.ReadDLQEntry(context.Background(), "exec-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListDLQ_ReturnsTrackedEntries(t *testing.T) {
	st := store.NewMemoryStore()
	seedStalledExecution(t, st, "exec-1", time.Now().Add(-time.Hour), model.StatusAwaitingResume)
	seedStalledExecution(t, st, "exec-2", time.Now().Add(-time.Hour), model.StatusAwaitingResume)

	m := New(st, eventbus.NewBus(), nil, WithInactivityThreshold(15*time.Minute))
	m.scanOnce(context.Background())

	entries, err := m.ListDLQ(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
