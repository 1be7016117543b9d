// Package replanner implements the Replanner (C9): given an execution
// carrying a replan marker, it asks a model.Client to synthesize a new Plan
// that routes around the failed step, validates the result, and commits it
// as the execution's new active plan. Grounded on the provider-agnostic
// model.Client/Request/Response contract in runtime/agent/model, the same
// abstraction the teacher's planner package builds on, reused here instead
// of reimplementing a second LLM call surface.
package replanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
	llm "github.com/sagaworks/saga-engine/runtime/agent/model"
)

// planSchemaJSON constrains the structured plan the model must return.
// Structural suggestions from the failover marker are injected as
// constraints rather than fed back through natural language, resolving the
// ambiguity between "reinterpret the failure in prose" and "apply the
// structured suggestion directly" in favor of the latter: suggestions are
// deterministic strings the prompt enumerates verbatim.
const planSchemaJSON = `{
  "type": "object",
  "required": ["steps", "summary"],
  "properties": {
    "summary": {"type": "string"},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "step_number", "tool_name", "parameters"],
        "properties": {
          "id": {"type": "string"},
          "step_number": {"type": "integer"},
          "tool_name": {"type": "string"},
          "parameters": {"type": "object"},
          "dependencies": {"type": "array", "items": {"type": "string"}},
          "timeout_ms": {"type": "integer"}
        }
      }
    }
  }
}`

// PlanSynthesizer turns a replan request into a validated structured plan
// response. The default implementation wraps an llm.Client; tests can
// substitute a fake.
type PlanSynthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedPlan, error)
}

// SynthesisRequest carries everything the synthesizer needs to produce a
// replacement plan.
type SynthesisRequest struct {
	Intent            model.Intent
	FailedStepID      string
	FailureReason     string
	RecommendedAction string
	Suggestions       []string
	CompletedStepIDs  []string
}

// SynthesizedPlan is the model's structured output before it is turned into
// a model.Plan.
type SynthesizedPlan struct {
	Summary string              `json:"summary"`
	Steps   []SynthesizedStep   `json:"steps"`
}

// SynthesizedStep is one model-proposed step.
type SynthesizedStep struct {
	ID           string         `json:"id"`
	StepNumber   int            `json:"step_number"`
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
	TimeoutMS    int            `json:"timeout_ms"`
}

// ModelSynthesizer is the production PlanSynthesizer, backed by any
// llm.Client (the Anthropic and Bedrock adapters in features/model satisfy
// it directly; the OpenAI adapter does through llmbridge.OpenAIBridge).
type ModelSynthesizer struct {
	client  llm.Client
	schema  *jsonschema.Schema
	modelID string
}

// NewModelSynthesizer constructs a ModelSynthesizer. modelID may be empty to
// let the client choose its default model.
func NewModelSynthesizer(client llm.Client, modelID string) (*ModelSynthesizer, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(planSchemaJSON), &schemaDoc); err != nil {
		return nil, fmt.Errorf("replanner: unmarshal plan schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("replanner/plan.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("replanner: add plan schema resource: %w", err)
	}
	schema, err := c.Compile("replanner/plan.json")
	if err != nil {
		return nil, fmt.Errorf("replanner: compile plan schema: %w", err)
	}
	return &ModelSynthesizer{client: client, schema: schema, modelID: modelID}, nil
}

// Synthesize asks the model for a replacement plan and validates its output
// against the plan schema before returning it.
func (s *ModelSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedPlan, error) {
	prompt := buildPrompt(req)
	resp, err := s.client.Complete(ctx, &llm.Request{
		Model:       s.modelID,
		Messages:    []*llm.Message{{Role: llm.ConversationRoleUser, Parts: []llm.Part{llm.TextPart{Text: prompt}}}},
		Temperature: 0,
		MaxTokens:   2048,
	})
	if err != nil {
		return SynthesizedPlan{}, fmt.Errorf("replanner: model completion: %w", err)
	}

	raw := extractText(resp)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return SynthesizedPlan{}, fmt.Errorf("replanner: model output is not valid JSON: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return SynthesizedPlan{}, fmt.Errorf("replanner: model output failed plan schema: %w", err)
	}

	var plan SynthesizedPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return SynthesizedPlan{}, fmt.Errorf("replanner: decode synthesized plan: %w", err)
	}
	return plan, nil
}

func extractText(resp *llm.Response) string {
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			if tp, ok := part.(llm.TextPart); ok {
				return tp.Text
			}
		}
	}
	return ""
}

func buildPrompt(req SynthesisRequest) string {
	return fmt.Sprintf(
		"A saga step failed and needs a replacement plan.\n"+
			"Failed step: %s\nFailure reason: %s\nRecommended action: %s\n"+
			"Suggestions to apply structurally (do not reinterpret in prose, apply directly): %v\n"+
			"Already-completed steps (do not repeat their side effects): %v\n"+
			"Intent: %s\n"+
			"Respond with JSON matching the plan schema only.",
		req.FailedStepID, req.FailureReason, req.RecommendedAction, req.Suggestions, req.CompletedStepIDs, req.Intent.RawText,
	)
}

// Replanner is the C9 component.
type Replanner struct {
	store       store.Store
	synthesizer PlanSynthesizer
	bus         eventbus.Bus
	jobQueue    queue.Backend
	log         telemetry.Logger
}

// Option configures a Replanner.
type Option func(*Replanner)

// WithLogger sets the replanner's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Replanner) {
		if l != nil {
			r.log = l
		}
	}
}

// New constructs a Replanner.
func New(st store.Store, synth PlanSynthesizer, bus eventbus.Bus, jobQueue queue.Backend, opts ...Option) *Replanner {
	r := &Replanner{store: st, synthesizer: synth, bus: bus, jobQueue: jobQueue, log: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// TriggerReplan reads executionID's replan marker, synthesizes a new plan,
// and commits it: the old plan moves to PlanHistory, step states reset to
// pending under fresh step IDs (so a replanned step can never collide with
// an old plan's idempotency lock), status becomes PLANNED, and the marker
// is cleared. Previously completed side effects remain owned by the Saga
// Compensator should the new plan also fail later; the replanner never
// re-registers old compensation records against the new plan.
func (r *Replanner) TriggerReplan(ctx context.Context, executionID string) error {
	marker, err := r.store.ReadReplanMarker(ctx, executionID)
	if err != nil {
		return fmt.Errorf("replanner: read replan marker: %w", err)
	}

	state, err := r.store.LoadExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("replanner: load execution: %w", err)
	}

	var completed []string
	for _, ss := range state.StepStates {
		if ss.Status == model.StepCompleted {
			completed = append(completed, ss.StepID)
		}
	}

	synthesized, err := r.synthesizer.Synthesize(ctx, SynthesisRequest{
		Intent:            state.Intent,
		FailedStepID:      marker.FailedStepID,
		FailureReason:     marker.FailureReason,
		RecommendedAction: marker.RecommendedAction,
		Suggestions:       marker.Suggestions,
		CompletedStepIDs:  completed,
	})
	if err != nil {
		return fmt.Errorf("replanner: synthesize plan: %w", err)
	}

	newPlan := toPlan(synthesized, state.Plan.ID, state.Plan.IntentID, state.Plan.Constraints)
	if err := newPlan.Validate(); err != nil {
		return fmt.Errorf("replanner: synthesized plan invalid: %w", err)
	}

	updated, err := r.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
		s.PlanHistory = append(s.PlanHistory, s.Plan)
		s.Plan = newPlan
		s.StepStates = make([]model.StepState, len(newPlan.Steps))
		for i, step := range newPlan.Steps {
			s.StepStates[i] = model.StepState{StepID: step.ID, Status: model.StepPending}
		}
		s.Status = model.StatusPlanned
		return nil
	})
	if err != nil {
		return fmt.Errorf("replanner: commit new plan: %w", err)
	}
	if err := r.store.ClearReplanMarker(ctx, executionID); err != nil {
		r.log.Warn(ctx, "replanner: clear marker failed", "execution_id", executionID, "error", err.Error())
	}

	r.publish(ctx, eventbus.NewAutomaticReplanTriggered(executionID, marker.FailedStepID, newPlan.ID, state.Plan.ID, time.Now()))

	if r.jobQueue != nil {
		if err := r.jobQueue.Enqueue(ctx, queue.Job{ExecutionID: executionID, SegmentNumber: updated.SegmentNumber + 1, Reason: "replanned"}); err != nil {
			return fmt.Errorf("replanner: enqueue replanned segment: %w", err)
		}
	}
	return nil
}

func toPlan(synthesized SynthesizedPlan, oldPlanID, intentID string, constraints model.PlanConstraints) model.Plan {
	steps := make([]model.PlanStep, len(synthesized.Steps))
	for i, s := range synthesized.Steps {
		id := s.ID
		if id == "" {
			id = uuid.NewString()
		}
		steps[i] = model.PlanStep{
			ID:           id,
			StepNumber:   s.StepNumber,
			ToolName:     s.ToolName,
			Parameters:   s.Parameters,
			Dependencies: s.Dependencies,
			TimeoutMS:    s.TimeoutMS,
		}
	}
	return model.Plan{
		ID:       uuid.NewString(),
		IntentID: intentID,
		Steps:    steps,
		Constraints: constraints,
		Summary:  synthesized.Summary,
		Metadata: model.PlanMetadata{
			CreatedAt:           time.Now().UTC(),
			ReplannedFromPlanID: oldPlanID,
		},
	}
}

func (r *Replanner) publish(ctx context.Context, evt eventbus.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, evt); err != nil {
		r.log.Warn(ctx, "replanner: event publish error", "event_type", string(evt.Type()), "error", err.Error())
	}
}
