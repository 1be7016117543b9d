package model

import "time"

// ExecutionStatus is the top-level state of an ExecutionState, matching the
// C5 Workflow Machine's state diagram:
//
//	CREATED -> PLANNED -> EXECUTING <-> AWAITING_RESUME -> {COMPLETED, COMPENSATING -> FAILED, CANCELLED}
type ExecutionStatus string

const (
	StatusCreated        ExecutionStatus = "CREATED"
	StatusPlanned        ExecutionStatus = "PLANNED"
	StatusExecuting      ExecutionStatus = "EXECUTING"
	StatusAwaitingResume ExecutionStatus = "AWAITING_RESUME"
	StatusCompensating   ExecutionStatus = "COMPENSATING"
	StatusCompleted      ExecutionStatus = "COMPLETED"
	StatusFailed         ExecutionStatus = "FAILED"
	StatusCancelled      ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status is a sink from which no further
// segment may run.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle of a single StepState.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepSkipped     StepStatus = "skipped"
	StepCompensated StepStatus = "compensated"
)

// StepError captures a step's terminal failure for display and for failover
// classification.
type StepError struct {
	Code    string `json:"code" bson:"code"`
	Message string `json:"message" bson:"message"`
}

// StepState tracks one PlanStep's execution progress. It is addressed by
// StepID, not by StepNumber, so a replanned plan's fresh step IDs can never
// collide with an old plan's idempotency locks.
type StepState struct {
	StepID                  string          `json:"step_id" bson:"step_id"`
	Status                  StepStatus      `json:"status" bson:"status"`
	StartedAt               *time.Time      `json:"started_at,omitempty" bson:"started_at,omitempty"`
	FinishedAt              *time.Time      `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
	Attempts                int             `json:"attempts" bson:"attempts"`
	InputSnapshot           map[string]any  `json:"input_snapshot,omitempty" bson:"input_snapshot,omitempty"`
	Output                  map[string]any  `json:"output,omitempty" bson:"output,omitempty"`
	Error                   *StepError      `json:"error,omitempty" bson:"error,omitempty"`
	CompensationRegistered  bool            `json:"compensation_registered,omitempty" bson:"compensation_registered,omitempty"`
	LatencyMS               int64           `json:"latency_ms,omitempty" bson:"latency_ms,omitempty"`
}

// CompensationOutcome records the result of playing back one CompensationRecord.
type CompensationOutcome struct {
	OK      bool   `json:"ok" bson:"ok"`
	Error   string `json:"error,omitempty" bson:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty" bson:"skipped,omitempty"`
}

// CompensationRecord is the inverse tool invocation undoing a completed
// step's side effect. It owns its fields by value — never a pointer back to
// the originating PlanStep — to avoid cyclic plan/state/compensation
// references.
type CompensationRecord struct {
	StepID       string                `json:"step_id" bson:"step_id"`
	ToolName     string                `json:"tool_name" bson:"tool_name"`
	Parameters   map[string]any        `json:"parameters" bson:"parameters"`
	RegisteredAt time.Time             `json:"registered_at" bson:"registered_at"`
	ExecutedAt   *time.Time            `json:"executed_at,omitempty" bson:"executed_at,omitempty"`
	Outcome      *CompensationOutcome  `json:"outcome,omitempty" bson:"outcome,omitempty"`

	// StepNumber breaks registered_at ties deterministically during reverse
	// playback. Populated by the Workflow Machine when the record is
	// created; informational only, never used to re-derive the step.
	StepNumber int `json:"step_number,omitempty" bson:"step_number,omitempty"`
}

// Checkpoint is the durable cursor written by the Checkpoint Manager (C6).
type Checkpoint struct {
	Cursor          int       `json:"cursor" bson:"cursor"`
	Reason          string    `json:"reason" bson:"reason"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	StateSnapshotRef string   `json:"state_snapshot_ref,omitempty" bson:"state_snapshot_ref,omitempty"`
	TraceID         string    `json:"trace_id,omitempty" bson:"trace_id,omitempty"`
}

// CheckpointReason enumerates why a checkpoint was written.
const (
	ReasonTimeoutApproaching = "TIMEOUT_APPROACHING"
	ReasonExplicitPause      = "EXPLICIT_PAUSE"
	ReasonAwaitingHuman      = "AWAITING_HUMAN"
)

// ExecutionState is the single durable record of record for one execution.
// Exactly one worker may mutate it at a time (it must hold exec:{id}:lock);
// all multi-field updates use CAS on Version (see internal/store).
type ExecutionState struct {
	ExecutionID     string                 `json:"execution_id" bson:"_id"`
	Intent          Intent                 `json:"intent" bson:"intent"`
	Plan            Plan                   `json:"plan" bson:"plan"`
	Status          ExecutionStatus        `json:"status" bson:"status"`
	StepStates      []StepState            `json:"step_states" bson:"step_states"`
	Context         map[string]any         `json:"context" bson:"context"`
	Version         int64                  `json:"version" bson:"version"`
	SegmentNumber   int                    `json:"segment_number" bson:"segment_number"`
	Checkpoint      *Checkpoint            `json:"checkpoint,omitempty" bson:"checkpoint,omitempty"`
	Compensations   []CompensationRecord   `json:"compensations" bson:"compensations"`
	CreatedAt       time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" bson:"updated_at"`
	LastActivityAt  time.Time              `json:"last_activity_at" bson:"last_activity_at"`

	// PlanHistory accumulates every plan this execution has run under,
	// oldest first, so a replanned execution's full history (S5) can be
	// reconstructed without a separate table. The currently active plan is
	// always Plan above, which is also the last entry here once committed.
	PlanHistory []Plan `json:"plan_history,omitempty" bson:"plan_history,omitempty"`
}

// StepStateByID returns the StepState for the given step ID.
func (e ExecutionState) StepStateByID(id string) (StepState, int, bool) {
	for i, s := range e.StepStates {
		if s.StepID == id {
			return s, i, true
		}
	}
	return StepState{}, -1, false
}

// NextReadyStep returns the lowest step_number whose status is pending and
// whose dependencies are all completed. ok is false when no such step exists
// (either the plan is complete or blocked on a failure).
func (e ExecutionState) NextReadyStep() (PlanStep, bool) {
	completed := make(map[string]bool, len(e.StepStates))
	for _, ss := range e.StepStates {
		if ss.Status == StepCompleted {
			completed[ss.StepID] = true
		}
	}
	statusByID := make(map[string]StepStatus, len(e.StepStates))
	for _, ss := range e.StepStates {
		statusByID[ss.StepID] = ss.Status
	}

	var best *PlanStep
	for i := range e.Plan.Steps {
		step := e.Plan.Steps[i]
		if statusByID[step.ID] != StepPending {
			continue
		}
		ready := true
		for _, dep := range step.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if best == nil || step.StepNumber < best.StepNumber {
			s := step
			best = &s
		}
	}
	if best == nil {
		return PlanStep{}, false
	}
	return *best, true
}

// HasFailedStep reports whether any step in the current plan has status
// failed, which blocks NextReadyStep's "plan complete" interpretation.
func (e ExecutionState) HasFailedStep() bool {
	for _, ss := range e.StepStates {
		if ss.Status == StepFailed {
			return true
		}
	}
	return false
}

// AllTerminal reports whether every step is either completed or skipped,
// meaning the execution should transition to COMPLETED.
func (e ExecutionState) AllTerminal() bool {
	if len(e.Plan.Steps) == 0 {
		return true
	}
	statusByID := make(map[string]StepStatus, len(e.StepStates))
	for _, ss := range e.StepStates {
		statusByID[ss.StepID] = ss.Status
	}
	for _, step := range e.Plan.Steps {
		switch statusByID[step.ID] {
		case StepCompleted, StepSkipped:
		default:
			return false
		}
	}
	return true
}
