package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/checkpoint"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/failover"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/toolexec"
)

type fakeCompensator struct {
	called bool
	err    error
}

func (f *fakeCompensator) Compensate(_ context.Context, _ string) error {
	f.called = true
	return f.err
}

type fakeReplanner struct {
	called bool
	err    error
}

func (f *fakeReplanner) TriggerReplan(_ context.Context, _ string) error {
	f.called = true
	return f.err
}

type fakeQueueBackend struct {
	jobs []queue.Job
}

func (f *fakeQueueBackend) Enqueue(_ context.Context, job queue.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func seedPlannedExecution(t *testing.T, st store.Store, steps ...model.PlanStep) {
	t.Helper()
	now := time.Now().UTC()
	stepStates := make([]model.StepState, len(steps))
	for i, s := range steps {
		stepStates[i] = model.StepState{StepID: s.ID, Status: model.StepPending}
	}
	state := &model.ExecutionState{
		ExecutionID: "exec-1",
		Status:      model.StatusPlanned,
		Plan:        model.Plan{ID: "plan-1", Steps: steps},
		StepStates:  stepStates,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, state.Plan.Validate())
	require.NoError(t, st.CreateExecution(context.Background(), state))
}

func newMachine(t *testing.T, st store.Store, reg *toolexec.LocalRegistry, fo *failover.Engine, comp Compensator, repl Replanner, bus eventbus.Bus, q *fakeQueueBackend) *Machine {
	t.Helper()
	executor := toolexec.New(reg)
	checkpoints := checkpoint.New(st)
	return New(st, executor, checkpoints, fo, comp, repl, bus, q)
}

func escalateOnlyEngine() *failover.Engine {
	return failover.New(nil, nil)
}

func TestRunSegment_CompletesStepAndEnqueuesNext(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st,
		model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "find.restaurant"},
		model.PlanStep{ID: "step-2", StepNumber: 2, ToolName: "book.table", Dependencies: []string{"step-1"}},
	)

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("find.restaurant", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"restaurant_id": "r-1"}, nil
	}, nil))

	q := &fakeQueueBackend{}
	m := newMachine(t, st, reg, escalateOnlyEngine(), nil, nil, eventbus.NewBus(), q)

	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepCompleted, result.Outcome)
	assert.Equal(t, "step-1", result.StepID)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, 2, q.jobs[0].SegmentNumber)

	state, err := st.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	ss, _, found := state.StepStateByID("step-1")
	require.True(t, found)
	assert.Equal(t, model.StepCompleted, ss.Status)
}

func TestRunSegment_CheckspointedBranchEnqueuesContinuation(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st,
		model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "find.restaurant"},
		model.PlanStep{ID: "step-2", StepNumber: 2, ToolName: "book.table", Dependencies: []string{"step-1"}},
	)

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("find.restaurant", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"restaurant_id": "r-1"}, nil
	}, nil))

	executor := toolexec.New(reg)
	checkpoints := checkpoint.New(st)
	q := &fakeQueueBackend{}
	m := New(st, executor, checkpoints, escalateOnlyEngine(), nil, nil, eventbus.NewBus(), q,
		WithTimings(0, 0, 0))

	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckpointed, result.Outcome)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, 2, q.jobs[0].SegmentNumber)
	assert.Equal(t, "checkpoint", q.jobs[0].Reason)

	cp, err := st.ReadCheckpoint(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Cursor)
}

func TestRunSegment_SegmentNumberAdvancesAcrossSteps(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st,
		model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "a"},
		model.PlanStep{ID: "step-2", StepNumber: 2, ToolName: "b", Dependencies: []string{"step-1"}},
		model.PlanStep{ID: "step-3", StepNumber: 3, ToolName: "c", Dependencies: []string{"step-2"}},
	)

	reg := toolexec.NewLocalRegistry()
	ok := func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}
	require.NoError(t, reg.Register("a", ok, nil))
	require.NoError(t, reg.Register("b", ok, nil))
	require.NoError(t, reg.Register("c", ok, nil))

	q := &fakeQueueBackend{}
	m := newMachine(t, st, reg, escalateOnlyEngine(), nil, nil, eventbus.NewBus(), q)

	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepCompleted, result.Outcome)
	assert.Equal(t, "step-1", result.StepID)

	result, err = m.RunSegment(context.Background(), "exec-1", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepCompleted, result.Outcome)
	assert.Equal(t, "step-2", result.StepID)

	result, err = m.RunSegment(context.Background(), "exec-1", 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecutionComplete, result.Outcome)

	require.Len(t, q.jobs, 2)
	assert.Equal(t, 2, q.jobs[0].SegmentNumber)
	assert.Equal(t, 3, q.jobs[1].SegmentNumber)
}

func TestRunSegment_MarksExecutionCompleteWhenAllStepsDone(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st, model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "find.restaurant"})

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("find.restaurant", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, nil))

	m := newMachine(t, st, reg, escalateOnlyEngine(), nil, nil, eventbus.NewBus(), &fakeQueueBackend{})
	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecutionComplete, result.Outcome)

	state, err := st.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, state.Status)
}

func TestRunSegment_DuplicateDeliveryIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st, model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "find.restaurant"})
	require.NoError(t, st.AcquireStepLock(context.Background(), "exec-1", 1))

	reg := toolexec.NewLocalRegistry()
	m := newMachine(t, st, reg, escalateOnlyEngine(), nil, nil, eventbus.NewBus(), &fakeQueueBackend{})

	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateDelivery, result.Outcome)
}

func TestRunSegment_RecoverableFailureGoesToAwaitingResumeAndTriggersReplan(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st, model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "book.table"})

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("book.table", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("restaurant full")
	}, nil))

	policy := failover.Policy{
		Name:          "retry-on-technical-error",
		FailureReason: failover.ReasonFromToolErrorCode("TECHNICAL_ERROR"),
		Recoverable:   true,
	}
	policy.Action.Type = failover.ActionSuggestAlternativeTime
	fo := failover.New([]failover.Policy{policy}, nil)

	repl := &fakeReplanner{}
	m := newMachine(t, st, reg, fo, nil, repl, eventbus.NewBus(), &fakeQueueBackend{})

	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingResume, result.Outcome)
	assert.True(t, repl.called)

	state, err := st.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingResume, state.Status)

	marker, err := st.ReadReplanMarker(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "step-1", marker.FailedStepID)
}

func TestRunSegment_UnrecoverableFailureTriggersCompensation(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlannedExecution(t, st, model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "charge.card"})

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("charge.card", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("card declined")
	}, nil))

	comp := &fakeCompensator{}
	m := newMachine(t, st, reg, escalateOnlyEngine(), comp, nil, eventbus.NewBus(), &fakeQueueBackend{})

	result, err := m.RunSegment(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompensating, result.Outcome)
	assert.True(t, comp.called)
}

func TestRunSegment_StepWithNilRetryPolicyDoesNotPanic(t *testing.T) {
	st := store.NewMemoryStore()
	step := model.PlanStep{ID: "step-1", StepNumber: 1, ToolName: "charge.card"}
	step.RetryPolicy = nil
	seedPlannedExecution(t, st, step)

	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("charge.card", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("card declined")
	}, nil))

	m := newMachine(t, st, reg, escalateOnlyEngine(), &fakeCompensator{}, nil, eventbus.NewBus(), &fakeQueueBackend{})

	assert.NotPanics(t, func() {
		_, err := m.RunSegment(context.Background(), "exec-1", 1)
		require.NoError(t, err)
	})
}

func TestCompensationRecipe_ExtractsFromOutput(t *testing.T) {
	recipe, ok := compensationRecipe(map[string]any{
		"compensation": map[string]any{
			"tool_name":  "cancel.table",
			"parameters": map[string]any{"reservation_id": "r-1"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "cancel.table", recipe.ToolName)
	assert.Equal(t, "r-1", recipe.Parameters["reservation_id"])
}

func TestCompensationRecipe_AbsentWhenNoKey(t *testing.T) {
	_, ok := compensationRecipe(map[string]any{"ok": true})
	assert.False(t, ok)
}
