// Package workflow implements the per-execution state machine: one call to
// Machine.RunSegment drives at most one plan step to completion (or failure)
// and decides how the execution continues — enqueue the next step directly,
// checkpoint and enqueue a continuation, hand off to the replanner, or start
// compensation. Grounded on the segmented-activity shape of
// runtime/agent/engine/temporal in the teacher, generalized from Temporal
// activities to a platform-timeout-bounded segment loop.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sagaworks/saga-engine/internal/checkpoint"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/failover"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
	"github.com/sagaworks/saga-engine/internal/toolexec"
)

// Segment timing defaults. CHECKPOINT_THRESHOLD_MS < SEGMENT_TIMEOUT_MS must
// hold strictly so the machine always has room to checkpoint before the
// platform kills the invocation.
const (
	DefaultSegmentTimeout     = 9 * time.Second
	DefaultCheckpointThreshold = 7 * time.Second
	DefaultSafetyMargin       = 500 * time.Millisecond
	DefaultCompensationTimeout = 15 * time.Second
)

// SegmentOutcome reports what RunSegment did, for callers (the HTTP API
// handlers, including the httpqueue delivery route) to log or test against.
type SegmentOutcome string

const (
	OutcomeDuplicateDelivery SegmentOutcome = "duplicate_delivery"
	OutcomeLockHeld          SegmentOutcome = "lock_held"
	OutcomeNoOp              SegmentOutcome = "no_op"
	OutcomeStepCompleted     SegmentOutcome = "step_completed"
	OutcomeAwaitingResume    SegmentOutcome = "awaiting_resume"
	OutcomeCompensating      SegmentOutcome = "compensating"
	OutcomeCheckpointed      SegmentOutcome = "checkpointed"
	OutcomeExecutionComplete SegmentOutcome = "execution_complete"
)

// SegmentResult is returned by RunSegment.
type SegmentResult struct {
	Outcome SegmentOutcome
	StepID  string
}

// Compensator starts reverse-order compensation playback for an execution
// whose terminal failure left registered CompensationRecords. Implemented by
// internal/compensator.
type Compensator interface {
	Compensate(ctx context.Context, executionID string) error
}

// Replanner enqueues replanning work for an execution carrying a replan
// marker. Implemented by internal/replanner.
type Replanner interface {
	TriggerReplan(ctx context.Context, executionID string) error
}

// Machine is the Workflow Machine (C5).
type Machine struct {
	store       store.Store
	executor    *toolexec.Executor
	checkpoints *checkpoint.Manager
	failover    *failover.Engine
	compensator Compensator
	replanner   Replanner
	bus         eventbus.Bus
	jobQueue    queue.Backend

	segmentTimeout      time.Duration
	checkpointThreshold time.Duration
	safetyMargin        time.Duration

	log telemetry.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithTimings overrides the segment budget timings.
func WithTimings(segment, checkpointThreshold, safetyMargin time.Duration) Option {
	return func(m *Machine) {
		m.segmentTimeout = segment
		m.checkpointThreshold = checkpointThreshold
		m.safetyMargin = safetyMargin
	}
}

// WithLogger sets the machine's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// New constructs a Machine. compensator, replanner, and jobQueue may be nil
// only in tests that never exercise the paths needing them.
func New(
	st store.Store,
	executor *toolexec.Executor,
	checkpoints *checkpoint.Manager,
	fo *failover.Engine,
	compensator Compensator,
	replanner Replanner,
	bus eventbus.Bus,
	jobQueue queue.Backend,
	opts ...Option,
) *Machine {
	m := &Machine{
		store:               st,
		executor:            executor,
		checkpoints:         checkpoints,
		failover:            fo,
		compensator:         compensator,
		replanner:           replanner,
		bus:                 bus,
		jobQueue:            jobQueue,
		segmentTimeout:      DefaultSegmentTimeout,
		checkpointThreshold: DefaultCheckpointThreshold,
		safetyMargin:        DefaultSafetyMargin,
		log:                 telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RunSegment drives at most one plan step of executionID to completion or
// failure, per the Workflow Machine's per-invocation algorithm.
func (m *Machine) RunSegment(ctx context.Context, executionID string, segmentNumber int) (SegmentResult, error) {
	segmentStart := time.Now()
	segmentDeadline := segmentStart.Add(m.segmentTimeout)

	// Step 2: coarse per-execution lock.
	if err := m.store.AcquireCoarseLock(ctx, executionID); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return SegmentResult{Outcome: OutcomeLockHeld}, nil
		}
		return SegmentResult{}, fmt.Errorf("workflow: acquire coarse lock: %w", err)
	}
	defer m.store.ReleaseCoarseLock(ctx, executionID) //nolint:errcheck // best-effort release

	// Step 3: load state and bail out on terminal status.
	state, err := m.store.LoadExecution(ctx, executionID)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("workflow: load execution: %w", err)
	}
	if state.Status.Terminal() {
		return SegmentResult{Outcome: OutcomeNoOp}, nil
	}

	// Step 4: select the next ready step.
	step, ok := state.NextReadyStep()
	if !ok {
		if state.HasFailedStep() {
			return SegmentResult{Outcome: OutcomeNoOp}, nil
		}
		if _, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
			s.Status = model.StatusCompleted
			return nil
		}); err != nil {
			return SegmentResult{}, fmt.Errorf("workflow: mark completed: %w", err)
		}
		m.publish(ctx, eventbus.NewExecutionCompleted(executionID, time.Now()))
		return SegmentResult{Outcome: OutcomeExecutionComplete}, nil
	}

	// Step 1: enforce idempotency on the step actually selected, not the
	// caller-supplied segment number — a stale or redelivered job must never
	// re-enter a step another invocation already claimed.
	if err := m.store.AcquireStepLock(ctx, executionID, step.StepNumber); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return SegmentResult{Outcome: OutcomeDuplicateDelivery}, nil
		}
		return SegmentResult{}, fmt.Errorf("workflow: acquire step lock: %w", err)
	}

	// Step 6: mark the step running. Persisting segmentNumber here is what
	// lets every downstream updated.SegmentNumber+1 (checkpoint cursor,
	// continuation enqueue, replan enqueue) advance instead of sticking at
	// whatever the first segment ever wrote.
	if _, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
		ss, idx, found := s.StepStateByID(step.ID)
		if !found {
			return fmt.Errorf("workflow: step %s missing from step_states", step.ID)
		}
		now := time.Now().UTC()
		ss.Status = model.StepRunning
		ss.StartedAt = &now
		ss.Attempts++
		s.StepStates[idx] = ss
		s.SegmentNumber = segmentNumber
		return nil
	}); err != nil {
		return SegmentResult{}, fmt.Errorf("workflow: mark step running: %w", err)
	}
	m.publish(ctx, eventbus.NewStepStarted(executionID, step.ID, step.ToolName, step.StepNumber, time.Now()))

	// Step 7: bound the tool call by whichever is tighter, the step's own
	// timeout or the remaining segment budget minus a safety margin.
	remaining := time.Until(segmentDeadline) - m.safetyMargin
	toolTimeout := time.Duration(step.EffectiveTimeoutMS()) * time.Millisecond
	if remaining < toolTimeout {
		toolTimeout = remaining
	}

	result, toolErr := m.executor.Execute(ctx, step.ToolName, step.Parameters, toolTimeout)

	if toolErr == nil {
		return m.onStepSuccess(ctx, executionID, step, result, segmentDeadline)
	}
	return m.onStepFailure(ctx, executionID, step, toolErr)
}

func (m *Machine) onStepSuccess(ctx context.Context, executionID string, step model.PlanStep, result *toolexec.Result, segmentDeadline time.Time) (SegmentResult, error) {
	updated, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
		ss, idx, found := s.StepStateByID(step.ID)
		if !found {
			return fmt.Errorf("workflow: step %s missing from step_states", step.ID)
		}
		now := time.Now().UTC()
		ss.Status = model.StepCompleted
		ss.FinishedAt = &now
		ss.Output = result.Output
		ss.LatencyMS = result.LatencyMS
		s.StepStates[idx] = ss

		if recipe, ok := compensationRecipe(result.Output); ok {
			s.Compensations = append(s.Compensations, model.CompensationRecord{
				StepID:       step.ID,
				ToolName:     recipe.ToolName,
				Parameters:   recipe.Parameters,
				RegisteredAt: now,
				StepNumber:   step.StepNumber,
			})
			ss.CompensationRegistered = true
			s.StepStates[idx] = ss
		}
		return nil
	})
	if err != nil {
		return SegmentResult{}, fmt.Errorf("workflow: persist step success: %w", err)
	}
	m.publish(ctx, eventbus.NewStepCompleted(executionID, step.ID, result.LatencyMS, result.Attempts, time.Now()))

	if updated.AllTerminal() {
		if _, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
			s.Status = model.StatusCompleted
			return nil
		}); err != nil {
			return SegmentResult{}, fmt.Errorf("workflow: mark completed: %w", err)
		}
		if err := m.store.DeleteCheckpoint(ctx, executionID); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.log.Warn(ctx, "workflow: delete checkpoint on completion failed", "execution_id", executionID, "error", err.Error())
		}
		m.publish(ctx, eventbus.NewExecutionCompleted(executionID, time.Now()))
		return SegmentResult{Outcome: OutcomeExecutionComplete, StepID: step.ID}, nil
	}

	// Step 10: checkpoint-or-continue decision. The checkpoint must be
	// durable before the continuation job is enqueued, so a crash between
	// the two never leaves an enqueued job pointing at a cursor nobody
	// recorded.
	if time.Until(segmentDeadline) < m.segmentTimeout-m.checkpointThreshold {
		if err := m.checkpoints.Checkpoint(ctx, executionID, updated.SegmentNumber+1, model.ReasonTimeoutApproaching); err != nil {
			return SegmentResult{}, fmt.Errorf("workflow: checkpoint: %w", err)
		}
		if m.jobQueue != nil {
			if err := m.jobQueue.Enqueue(ctx, queue.Job{ExecutionID: executionID, SegmentNumber: updated.SegmentNumber + 1, Reason: "checkpoint"}); err != nil {
				return SegmentResult{}, fmt.Errorf("workflow: enqueue checkpointed continuation: %w", err)
			}
		}
		return SegmentResult{Outcome: OutcomeCheckpointed, StepID: step.ID}, nil
	}

	if m.jobQueue != nil {
		if err := m.jobQueue.Enqueue(ctx, queue.Job{ExecutionID: executionID, SegmentNumber: updated.SegmentNumber + 1, Reason: "step success"}); err != nil {
			return SegmentResult{}, fmt.Errorf("workflow: enqueue next segment: %w", err)
		}
	}
	return SegmentResult{Outcome: OutcomeStepCompleted, StepID: step.ID}, nil
}

func (m *Machine) onStepFailure(ctx context.Context, executionID string, step model.PlanStep, toolErr error) (SegmentResult, error) {
	var te *toolexec.Error
	errors.As(toolErr, &te)
	code, message := "TECHNICAL_ERROR", toolErr.Error()
	if te != nil {
		code, message = string(te.Kind), te.Message
	}

	if _, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
		ss, idx, found := s.StepStateByID(step.ID)
		if !found {
			return fmt.Errorf("workflow: step %s missing from step_states", step.ID)
		}
		now := time.Now().UTC()
		ss.Status = model.StepFailed
		ss.FinishedAt = &now
		ss.Error = &model.StepError{Code: code, Message: message}
		s.StepStates[idx] = ss
		return nil
	}); err != nil {
		return SegmentResult{}, fmt.Errorf("workflow: persist step failure: %w", err)
	}
	m.publish(ctx, eventbus.NewStepFailed(executionID, step.ID, code, message, time.Now()))

	attemptCount := 0
	if step.RetryPolicy != nil {
		attemptCount = step.RetryPolicy.MaxAttempts
	}
	decision := m.failover.Classify(ctx, failover.Context{
		IntentType:    "",
		FailureReason: failover.ReasonFromToolErrorCode(code),
		AttemptCount:  attemptCount,
	})

	if decision.Recoverable {
		marker := store.ReplanMarker{
			FailedStepID:      step.ID,
			FailureReason:     string(decision.FailureReason),
			RecommendedAction: string(decision.Action.Type),
			Suggestions:       decision.Suggestions,
		}
		if err := m.store.WriteReplanMarker(ctx, executionID, marker); err != nil {
			return SegmentResult{}, fmt.Errorf("workflow: write replan marker: %w", err)
		}
		if _, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
			s.Status = model.StatusAwaitingResume
			return nil
		}); err != nil {
			return SegmentResult{}, fmt.Errorf("workflow: mark awaiting resume: %w", err)
		}
		m.publish(ctx, eventbus.NewFailoverPolicyTriggered(executionID, step.ID, decision.PolicyName, string(decision.Action.Type), time.Now()))
		if m.replanner != nil {
			if err := m.replanner.TriggerReplan(ctx, executionID); err != nil {
				m.log.Error(ctx, "workflow: trigger replan failed", "execution_id", executionID, "error", err.Error())
			}
		}
		return SegmentResult{Outcome: OutcomeAwaitingResume, StepID: step.ID}, nil
	}

	if _, err := m.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
		s.Status = model.StatusCompensating
		return nil
	}); err != nil {
		return SegmentResult{}, fmt.Errorf("workflow: mark compensating: %w", err)
	}
	if m.compensator != nil {
		if err := m.compensator.Compensate(ctx, executionID); err != nil {
			m.log.Error(ctx, "workflow: compensation failed", "execution_id", executionID, "error", err.Error())
		}
	}
	return SegmentResult{Outcome: OutcomeCompensating, StepID: step.ID}, nil
}

func (m *Machine) publish(ctx context.Context, evt eventbus.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.log.Warn(ctx, "workflow: event publish error", "event_type", string(evt.Type()), "error", err.Error())
	}
}

type compensationOutput struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// compensationRecipe extracts a `{tool_name, parameters}` compensation
// recipe from a tool's output map, if the tool surfaced one under the
// well-known "compensation" key.
func compensationRecipe(output map[string]any) (compensationOutput, bool) {
	raw, ok := output["compensation"]
	if !ok {
		return compensationOutput{}, false
	}
	asMap, ok := raw.(map[string]any)
	if !ok {
		return compensationOutput{}, false
	}
	name, _ := asMap["tool_name"].(string)
	if name == "" {
		return compensationOutput{}, false
	}
	params, _ := asMap["parameters"].(map[string]any)
	return compensationOutput{ToolName: name, Parameters: params}, true
}
