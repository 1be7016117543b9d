package compensator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/retry"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/toolexec"
)

func onceOnly() retry.Config {
	cfg := retry.DefaultToolConfig()
	cfg.MaxAttempts = 1
	return cfg
}

func seedExecutionWithCompensations(t *testing.T, st store.Store) {
	t.Helper()
	now := time.Now().UTC()
	state := &model.ExecutionState{
		ExecutionID: "exec-1",
		Status:      model.StatusCompensating,
		Plan: model.Plan{ID: "plan-1", Steps: []model.PlanStep{
			{ID: "step-1", StepNumber: 1, ToolName: "book.table"},
			{ID: "step-2", StepNumber: 2, ToolName: "charge.card"},
		}},
		StepStates: []model.StepState{
			{StepID: "step-1", Status: model.StepCompleted},
			{StepID: "step-2", Status: model.StepFailed},
		},
		Compensations: []model.CompensationRecord{
			{StepID: "step-1", ToolName: "cancel.table", RegisteredAt: now, StepNumber: 1},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateExecution(context.Background(), state))
}

func TestCompensate_PlaysBackAndMarksFailed(t *testing.T) {
	st := store.NewMemoryStore()
	seedExecutionWithCompensations(t, st)

	reg := toolexec.NewLocalRegistry()
	var invoked []string
	require.NoError(t, reg.Register("cancel.table", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		invoked = append(invoked, "cancel.table")
		return map[string]any{"ok": true}, nil
	}, nil))

	c := New(st, toolexec.New(reg), eventbus.NewBus())
	require.NoError(t, c.Compensate(context.Background(), "exec-1"))

	assert.Equal(t, []string{"cancel.table"}, invoked)

	state, err := st.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, state.Status)
	require.Len(t, state.Compensations, 1)
	require.NotNil(t, state.Compensations[0].Outcome)
	assert.True(t, state.Compensations[0].Outcome.OK)
}

func TestCompensate_ContinuesPastIndividualFailures(t *testing.T) {
	st := store.NewMemoryStore()
	seedExecutionWithCompensations(t, st)

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("cancel.table", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("provider unreachable")
	}, nil))

	c := New(st, toolexec.New(reg, toolexec.WithRetryConfig(onceOnly())), eventbus.NewBus())
	require.NoError(t, c.Compensate(context.Background(), "exec-1"))

	state, err := st.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, state.Status)
	assert.False(t, state.Compensations[0].Outcome.OK)
}

func TestCompensate_SkipPredicateMarksSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	seedExecutionWithCompensations(t, st)

	reg := toolexec.NewLocalRegistry()
	called := false
	require.NoError(t, reg.Register("cancel.table", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		called = true
		return map[string]any{}, nil
	}, nil))

	c := New(st, toolexec.New(reg), eventbus.NewBus(), WithSkipPredicate(func(model.CompensationRecord) bool { return true }))
	require.NoError(t, c.Compensate(context.Background(), "exec-1"))

	assert.False(t, called)
	state, err := st.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, state.Compensations[0].Outcome.Skipped)
}
