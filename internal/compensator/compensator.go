// Package compensator implements the Saga Compensator (C7): once a failed
// step is classified as terminal (the Failover Policy Engine found no
// recoverable policy), it plays back every registered CompensationRecord in
// reverse order, undoing completed steps' side effects, and settles the
// execution into FAILED regardless of how compensation itself goes.
// Grounded on the Tool Executor's call/classify/retry shape in
// internal/toolexec, reused here for compensation calls instead of forward
// steps.
package compensator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/outbox"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
	"github.com/sagaworks/saga-engine/internal/toolexec"
)

// DefaultTimeout bounds a single compensation tool invocation.
const DefaultTimeout = 15 * time.Second

// SkipPredicate reports whether a compensation record's tool should be
// skipped as already idempotent or side-effect-free (e.g. pure
// notifications), rather than invoked a second time.
type SkipPredicate func(record model.CompensationRecord) bool

// Compensator is the Saga Compensator.
type Compensator struct {
	store    store.Store
	executor *toolexec.Executor
	bus      eventbus.Bus
	mirror   outbox.Mirror
	timeout  time.Duration
	skip     SkipPredicate
	log      telemetry.Logger
}

// Option configures a Compensator.
type Option func(*Compensator)

// WithTimeout overrides the per-compensation-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Compensator) { c.timeout = d }
}

// WithSkipPredicate installs a predicate deciding which compensation
// records never need to run (idempotent no-ops).
func WithSkipPredicate(p SkipPredicate) Option {
	return func(c *Compensator) { c.skip = p }
}

// WithMirror installs an outbox.Mirror that records the final FAILED status
// for offline inspection.
func WithMirror(m outbox.Mirror) Option {
	return func(c *Compensator) { c.mirror = m }
}

// WithLogger sets the compensator's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Compensator) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs a Compensator.
func New(st store.Store, executor *toolexec.Executor, bus eventbus.Bus, opts ...Option) *Compensator {
	c := &Compensator{
		store:    st,
		executor: executor,
		bus:      bus,
		timeout:  DefaultTimeout,
		skip:     func(model.CompensationRecord) bool { return false },
		log:      telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compensate plays back executionID's registered CompensationRecords in
// reverse registration order (ties broken by descending step number),
// continuing past individual compensation failures, and always settles the
// execution into FAILED once playback finishes.
func (c *Compensator) Compensate(ctx context.Context, executionID string) error {
	state, err := c.store.LoadExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("compensator: load execution: %w", err)
	}

	records := make([]model.CompensationRecord, len(state.Compensations))
	copy(records, state.Compensations)
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].RegisteredAt.Equal(records[j].RegisteredAt) {
			return records[i].RegisteredAt.After(records[j].RegisteredAt)
		}
		return records[i].StepNumber > records[j].StepNumber
	})

	var failures int
	for _, rec := range records {
		outcome := c.playback(ctx, rec)
		if !outcome.OK && !outcome.Skipped {
			failures++
		}
		if _, err := c.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
			for i := range s.Compensations {
				if s.Compensations[i].StepID == rec.StepID && s.Compensations[i].RegisteredAt.Equal(rec.RegisteredAt) {
					now := time.Now().UTC()
					s.Compensations[i].ExecutedAt = &now
					s.Compensations[i].Outcome = &outcome
				}
			}
			return nil
		}); err != nil {
			c.log.Error(ctx, "compensator: persist outcome failed", "execution_id", executionID, "step_id", rec.StepID, "error", err.Error())
		}
		c.publish(ctx, eventbus.NewCompensationExecuted(executionID, rec.StepID, outcome.OK, outcome.Skipped, time.Now()))
	}

	summary := fmt.Sprintf("%d compensation(s) played back, %d failed", len(records), failures)
	if _, err := c.store.Mutate(ctx, executionID, func(s *model.ExecutionState) error {
		s.Status = model.StatusFailed
		return nil
	}); err != nil {
		return fmt.Errorf("compensator: mark failed: %w", err)
	}
	if err := c.store.DeleteCheckpoint(ctx, executionID); err != nil {
		c.log.Warn(ctx, "compensator: delete checkpoint failed", "execution_id", executionID, "error", err.Error())
	}
	if c.mirror != nil {
		if err := c.mirror.RecordTerminal(ctx, executionID, model.StatusFailed, summary); err != nil {
			c.log.Warn(ctx, "compensator: mirror record failed", "execution_id", executionID, "error", err.Error())
		}
	}
	c.publish(ctx, eventbus.NewExecutionFailed(executionID, summary, time.Now()))
	return nil
}

func (c *Compensator) playback(ctx context.Context, rec model.CompensationRecord) model.CompensationOutcome {
	if c.skip(rec) {
		return model.CompensationOutcome{OK: true, Skipped: true}
	}
	_, err := c.executor.Execute(ctx, rec.ToolName, rec.Parameters, c.timeout)
	if err != nil {
		c.log.Error(ctx, "compensator: compensation step failed", "tool", rec.ToolName, "step_id", rec.StepID, "error", err.Error())
		return model.CompensationOutcome{OK: false, Error: err.Error()}
	}
	return model.CompensationOutcome{OK: true}
}

func (c *Compensator) publish(ctx context.Context, evt eventbus.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, evt); err != nil {
		c.log.Warn(ctx, "compensator: event publish error", "event_type", string(evt.Type()), "error", err.Error())
	}
}
