package eventbus

import "time"

// EventType identifies the kind of lifecycle event a saga execution emits.
type EventType string

const (
	EventStepStarted              EventType = "step_started"
	EventStepCompleted            EventType = "step_completed"
	EventStepFailed               EventType = "step_failed"
	EventCheckpointed             EventType = "checkpointed"
	EventFailoverPolicyTriggered  EventType = "failover_policy_triggered"
	EventAutomaticReplanTriggered EventType = "automatic_replan_triggered"
	EventCompensationExecuted     EventType = "compensation_executed"
	EventExecutionCompleted       EventType = "execution_completed"
	EventExecutionFailed          EventType = "execution_failed"
	EventExecutionCancelled       EventType = "execution_cancelled"
	EventMovedToDLQ               EventType = "moved_to_dlq"
)

// Event is the interface every published event satisfies. Subscribers type
// switch on the concrete value to reach event-specific fields.
type Event interface {
	Type() EventType
	ExecutionID() string
	OccurredAt() time.Time
}

type baseEvent struct {
	executionID string
	occurredAt  time.Time
}

func (b baseEvent) ExecutionID() string   { return b.executionID }
func (b baseEvent) OccurredAt() time.Time { return b.occurredAt }

// StepStartedEvent fires when the Workflow Machine marks a step running.
type StepStartedEvent struct {
	baseEvent
	StepID     string
	ToolName   string
	StepNumber int
}

func (StepStartedEvent) Type() EventType { return EventStepStarted }

// NewStepStarted constructs a StepStartedEvent.
func NewStepStarted(executionID, stepID, toolName string, stepNumber int, at time.Time) StepStartedEvent {
	return StepStartedEvent{baseEvent: baseEvent{executionID, at}, StepID: stepID, ToolName: toolName, StepNumber: stepNumber}
}

// StepCompletedEvent fires when a step's tool invocation succeeds.
type StepCompletedEvent struct {
	baseEvent
	StepID     string
	LatencyMS  int64
	Attempts   int
}

func (StepCompletedEvent) Type() EventType { return EventStepCompleted }

// NewStepCompleted constructs a StepCompletedEvent.
func NewStepCompleted(executionID, stepID string, latencyMS int64, attempts int, at time.Time) StepCompletedEvent {
	return StepCompletedEvent{baseEvent: baseEvent{executionID, at}, StepID: stepID, LatencyMS: latencyMS, Attempts: attempts}
}

// StepFailedEvent fires when a step's tool call fails, after any retries the
// Tool Executor made.
type StepFailedEvent struct {
	baseEvent
	StepID  string
	Code    string
	Message string
}

func (StepFailedEvent) Type() EventType { return EventStepFailed }

// NewStepFailed constructs a StepFailedEvent.
func NewStepFailed(executionID, stepID, code, message string, at time.Time) StepFailedEvent {
	return StepFailedEvent{baseEvent: baseEvent{executionID, at}, StepID: stepID, Code: code, Message: message}
}

// CheckpointedEvent fires whenever the Checkpoint Manager writes a cursor.
type CheckpointedEvent struct {
	baseEvent
	Cursor int
	Reason string
}

func (CheckpointedEvent) Type() EventType { return EventCheckpointed }

// NewCheckpointed constructs a CheckpointedEvent.
func NewCheckpointed(executionID string, cursor int, reason string, at time.Time) CheckpointedEvent {
	return CheckpointedEvent{baseEvent: baseEvent{executionID, at}, Cursor: cursor, Reason: reason}
}

// FailoverPolicyTriggeredEvent fires when the Failover Policy Engine matches
// a failed step against a policy entry.
type FailoverPolicyTriggeredEvent struct {
	baseEvent
	StepID      string
	PolicyName  string
	Action      string
}

func (FailoverPolicyTriggeredEvent) Type() EventType { return EventFailoverPolicyTriggered }

// NewFailoverPolicyTriggered constructs a FailoverPolicyTriggeredEvent.
func NewFailoverPolicyTriggered(executionID, stepID, policyName, action string, at time.Time) FailoverPolicyTriggeredEvent {
	return FailoverPolicyTriggeredEvent{baseEvent: baseEvent{executionID, at}, StepID: stepID, PolicyName: policyName, Action: action}
}

// AutomaticReplanTriggeredEvent fires when the Replanner synthesizes a new
// plan segment in response to a failure.
type AutomaticReplanTriggeredEvent struct {
	baseEvent
	FailedStepID     string
	NewPlanID        string
	ReplannedFromID  string
}

func (AutomaticReplanTriggeredEvent) Type() EventType { return EventAutomaticReplanTriggered }

// NewAutomaticReplanTriggered constructs an AutomaticReplanTriggeredEvent.
func NewAutomaticReplanTriggered(executionID, failedStepID, newPlanID, replannedFromID string, at time.Time) AutomaticReplanTriggeredEvent {
	return AutomaticReplanTriggeredEvent{
		baseEvent:       baseEvent{executionID, at},
		FailedStepID:    failedStepID,
		NewPlanID:       newPlanID,
		ReplannedFromID: replannedFromID,
	}
}

// CompensationExecutedEvent fires after the Saga Compensator plays back one
// CompensationRecord.
type CompensationExecutedEvent struct {
	baseEvent
	StepID  string
	OK      bool
	Skipped bool
}

func (CompensationExecutedEvent) Type() EventType { return EventCompensationExecuted }

// NewCompensationExecuted constructs a CompensationExecutedEvent.
func NewCompensationExecuted(executionID, stepID string, ok, skipped bool, at time.Time) CompensationExecutedEvent {
	return CompensationExecutedEvent{baseEvent: baseEvent{executionID, at}, StepID: stepID, OK: ok, Skipped: skipped}
}

// ExecutionCompletedEvent fires when every step in the active plan reaches a
// terminal, non-failed status.
type ExecutionCompletedEvent struct {
	baseEvent
}

func (ExecutionCompletedEvent) Type() EventType { return EventExecutionCompleted }

// NewExecutionCompleted constructs an ExecutionCompletedEvent.
func NewExecutionCompleted(executionID string, at time.Time) ExecutionCompletedEvent {
	return ExecutionCompletedEvent{baseEvent{executionID, at}}
}

// ExecutionFailedEvent fires when compensation finishes and the execution
// settles into FAILED.
type ExecutionFailedEvent struct {
	baseEvent
	Reason string
}

func (ExecutionFailedEvent) Type() EventType { return EventExecutionFailed }

// NewExecutionFailed constructs an ExecutionFailedEvent.
func NewExecutionFailed(executionID, reason string, at time.Time) ExecutionFailedEvent {
	return ExecutionFailedEvent{baseEvent: baseEvent{executionID, at}, Reason: reason}
}

// ExecutionCancelledEvent fires when an execution is cancelled by request.
type ExecutionCancelledEvent struct {
	baseEvent
	Reason string
}

func (ExecutionCancelledEvent) Type() EventType { return EventExecutionCancelled }

// NewExecutionCancelled constructs an ExecutionCancelledEvent.
func NewExecutionCancelled(executionID, reason string, at time.Time) ExecutionCancelledEvent {
	return ExecutionCancelledEvent{baseEvent: baseEvent{executionID, at}, Reason: reason}
}

// MovedToDLQEvent fires when the DLQ Monitor relocates a stalled execution.
type MovedToDLQEvent struct {
	baseEvent
	RequiresHumanIntervention bool
}

func (MovedToDLQEvent) Type() EventType { return EventMovedToDLQ }

// NewMovedToDLQ constructs a MovedToDLQEvent.
func NewMovedToDLQ(executionID string, requiresHuman bool, at time.Time) MovedToDLQEvent {
	return MovedToDLQEvent{baseEvent: baseEvent{executionID, at}, RequiresHumanIntervention: requiresHuman}
}
