package model

import (
	"errors"
	"fmt"
	"time"
)

// DefaultStepTimeoutMS is applied to a PlanStep that does not declare its own
// timeout.
const DefaultStepTimeoutMS = 30_000

// MaxPlanSteps bounds the number of steps a single Plan may contain.
const MaxPlanSteps = 100

// RetryPolicy is carried on a PlanStep. The Tool Executor (C4) does not read
// it; its technical-error retries follow the Executor's own retry.Config.
// The Workflow Machine reads only MaxAttempts, which it passes to the
// Failover Policy Engine as the failure context's AttemptCount.
type RetryPolicy struct {
	MaxAttempts int `json:"max_attempts" bson:"max_attempts"`
	BackoffMS   int `json:"backoff_ms" bson:"backoff_ms"`
}

// PlanStep is one node of a Plan's step DAG.
type PlanStep struct {
	ID                   string         `json:"id" bson:"id"`
	StepNumber           int            `json:"step_number" bson:"step_number"`
	ToolName             string         `json:"tool_name" bson:"tool_name"`
	ToolVersion          string         `json:"tool_version,omitempty" bson:"tool_version,omitempty"`
	Parameters           map[string]any `json:"parameters" bson:"parameters"`
	Dependencies         []string       `json:"dependencies" bson:"dependencies"`
	Description          string         `json:"description" bson:"description"`
	RequiresConfirmation bool           `json:"requires_confirmation" bson:"requires_confirmation"`
	TimeoutMS            int            `json:"timeout_ms" bson:"timeout_ms"`
	RetryPolicy          *RetryPolicy   `json:"retry_policy,omitempty" bson:"retry_policy,omitempty"`
}

// EffectiveTimeoutMS returns the step's configured timeout, or the default
// when unset or non-positive.
func (s PlanStep) EffectiveTimeoutMS() int {
	if s.TimeoutMS > 0 {
		return s.TimeoutMS
	}
	return DefaultStepTimeoutMS
}

// PlanConstraints bounds what a Plan is allowed to do.
type PlanConstraints struct {
	MaxSteps                int      `json:"max_steps" bson:"max_steps"`
	MaxTotalTokens          int      `json:"max_total_tokens" bson:"max_total_tokens"`
	MaxExecutionTimeMS      int64    `json:"max_execution_time_ms" bson:"max_execution_time_ms"`
	AllowedTools            []string `json:"allowed_tools,omitempty" bson:"allowed_tools,omitempty"`
	RequireConfirmationFor  []string `json:"require_confirmation_for,omitempty" bson:"require_confirmation_for,omitempty"`
}

// PlanMetadata carries provenance for a Plan, including the optional link to
// the plan it replaced when produced by the Replanner (C9).
type PlanMetadata struct {
	Version             string    `json:"version" bson:"version"`
	CreatedAt           time.Time `json:"created_at" bson:"created_at"`
	PlanningModelID      string    `json:"planning_model_id,omitempty" bson:"planning_model_id,omitempty"`
	ReplannedFromPlanID string    `json:"replanned_from_plan_id,omitempty" bson:"replanned_from_plan_id,omitempty"`
}

// Plan is a totally ordered, DAG-dependent sequence of steps compiled from an
// Intent.
type Plan struct {
	ID          string          `json:"id" bson:"id"`
	IntentID    string          `json:"intent_id" bson:"intent_id"`
	Steps       []PlanStep      `json:"steps" bson:"steps"`
	Constraints PlanConstraints `json:"constraints" bson:"constraints"`
	Metadata    PlanMetadata    `json:"metadata" bson:"metadata"`
	Summary     string          `json:"summary" bson:"summary"`
}

// Validate checks the structural invariants a Plan must satisfy: step
// count, total ordering by StepNumber, and an acyclic, backward-pointing
// dependency DAG. Plan ingestion must call this and reject the write on
// error; a dependency cycle is rejected at ingestion, never at execution.
func (p Plan) Validate() error {
	if len(p.Steps) > MaxPlanSteps {
		return fmt.Errorf("plan %s: %d steps exceeds max of %d", p.ID, len(p.Steps), MaxPlanSteps)
	}
	byID := make(map[string]PlanStep, len(p.Steps))
	byNumber := make(map[int]string, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("plan %s: duplicate step id %s", p.ID, s.ID)
		}
		byID[s.ID] = s
		if other, dup := byNumber[s.StepNumber]; dup {
			return fmt.Errorf("plan %s: step_number %d used by both %s and %s", p.ID, s.StepNumber, other, s.ID)
		}
		byNumber[s.StepNumber] = s.ID
	}
	for _, s := range p.Steps {
		for _, depID := range s.Dependencies {
			dep, ok := byID[depID]
			if !ok {
				return fmt.Errorf("plan %s: step %s depends on unknown step %s", p.ID, s.ID, depID)
			}
			if dep.StepNumber >= s.StepNumber {
				return fmt.Errorf("plan %s: step %s dependency %s does not point backward", p.ID, s.ID, depID)
			}
		}
	}
	return detectCycle(p.Steps)
}

// detectCycle walks the dependency graph with an explicit recursion stack so
// a cycle (which Validate's backward-pointing check should already preclude,
// but which a malformed StepNumber assignment could still hide) is always
// caught before the plan is accepted.
func detectCycle(steps []PlanStep) error {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.Dependencies
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return errors.New("dependency cycle detected at step " + id)
		}
		color[id] = gray
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, s := range steps {
		if err := visit(s.ID); err != nil {
			return err
		}
	}
	return nil
}

// StepByID returns the step with the given ID, if present.
func (p Plan) StepByID(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}
