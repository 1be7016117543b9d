package model

import "testing"

func TestPlanValidate_RejectsCycle(t *testing.T) {
	p := Plan{
		ID: "plan-1",
		Steps: []PlanStep{
			{ID: "a", StepNumber: 0, Dependencies: nil},
			{ID: "b", StepNumber: 1, Dependencies: []string{"a"}},
		},
	}
	// Forge a cycle by pointing "a" at a later step number while keeping
	// StepNumber ordering intact elsewhere in the slice.
	p.Steps[0].Dependencies = []string{"b"}

	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error for cyclic/forward dependency, got nil")
	}
}

func TestPlanValidate_AcceptsDAG(t *testing.T) {
	p := Plan{
		ID: "plan-2",
		Steps: []PlanStep{
			{ID: "a", StepNumber: 0},
			{ID: "b", StepNumber: 1, Dependencies: []string{"a"}},
			{ID: "c", StepNumber: 2, Dependencies: []string{"a", "b"}},
		},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid DAG, got error: %v", err)
	}
}

func TestPlanValidate_RejectsTooManySteps(t *testing.T) {
	steps := make([]PlanStep, MaxPlanSteps+1)
	for i := range steps {
		steps[i] = PlanStep{ID: string(rune('a' + i%26)), StepNumber: i}
	}
	p := Plan{ID: "plan-3", Steps: steps}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for plan exceeding MaxPlanSteps")
	}
}

func TestExecutionState_NextReadyStep(t *testing.T) {
	e := ExecutionState{
		Plan: Plan{Steps: []PlanStep{
			{ID: "a", StepNumber: 0},
			{ID: "b", StepNumber: 1, Dependencies: []string{"a"}},
		}},
		StepStates: []StepState{
			{StepID: "a", Status: StepCompleted},
			{StepID: "b", Status: StepPending},
		},
	}
	step, ok := e.NextReadyStep()
	if !ok || step.ID != "b" {
		t.Fatalf("expected step b ready, got %+v ok=%v", step, ok)
	}
}

func TestExecutionState_NextReadyStep_BlockedByDependency(t *testing.T) {
	e := ExecutionState{
		Plan: Plan{Steps: []PlanStep{
			{ID: "a", StepNumber: 0},
			{ID: "b", StepNumber: 1, Dependencies: []string{"a"}},
		}},
		StepStates: []StepState{
			{StepID: "a", Status: StepPending},
			{StepID: "b", Status: StepPending},
		},
	}
	step, ok := e.NextReadyStep()
	if !ok || step.ID != "a" {
		t.Fatalf("expected step a ready first, got %+v ok=%v", step, ok)
	}
}

func TestExecutionState_AllTerminal_EmptyPlan(t *testing.T) {
	e := ExecutionState{}
	if !e.AllTerminal() {
		t.Fatal("empty plan should be immediately complete")
	}
}
