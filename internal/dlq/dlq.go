// Package dlq implements the DLQ Monitor (C10): a periodic scan over all
// active executions that relocates ones idle past a threshold into the dead
// letter namespace, plus the admin operations to resume or cancel them from
// there. Grounded on the distributed-ticker pattern in
// registry/health_tracker.go, generalized from a per-toolset ping loop to a
// single cluster-wide scan that only one node performs at a time.
package dlq

import (
	"context"
	"fmt"
	"time"

	"goa.design/pulse/pool"

	"github.com/sagaworks/saga-engine/internal/checkpoint"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// DefaultScanInterval is how often the monitor scans active executions.
const DefaultScanInterval = 1 * time.Minute

// DefaultInactivityThreshold is how long an execution may sit with no
// progress (LastActivityAt) before it is considered stalled.
const DefaultInactivityThreshold = 15 * time.Minute

// DefaultMaxRecoveryAttempts bounds checkpoint-resume attempts before a
// stalled execution is moved to the DLQ.
const DefaultMaxRecoveryAttempts = 3

// Monitor is the DLQ Monitor.
type Monitor struct {
	store               store.Store
	bus                 eventbus.Bus
	node                *pool.Node
	scanInterval        time.Duration
	inactivityThreshold time.Duration
	log                 telemetry.Logger

	checkpoints         *checkpoint.Manager
	resumer             checkpoint.Resumer
	maxRecoveryAttempts int

	ticker *pool.Ticker
	cancel context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithScanInterval overrides DefaultScanInterval.
func WithScanInterval(d time.Duration) Option {
	return func(m *Monitor) { m.scanInterval = d }
}

// WithInactivityThreshold overrides DefaultInactivityThreshold.
func WithInactivityThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.inactivityThreshold = d }
}

// WithLogger sets the monitor's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithRecovery enables automatic recovery: before a stalled execution is
// moved to the DLQ, the monitor resumes it from its last checkpoint through
// r up to maxAttempts times. checkpoints and r may be nil to disable
// recovery entirely and go straight to the DLQ, matching the prior
// behavior; maxAttempts <= 0 falls back to DefaultMaxRecoveryAttempts.
func WithRecovery(checkpoints *checkpoint.Manager, r checkpoint.Resumer, maxAttempts int) Option {
	return func(m *Monitor) {
		m.checkpoints = checkpoints
		m.resumer = r
		if maxAttempts > 0 {
			m.maxRecoveryAttempts = maxAttempts
		}
	}
}

// New constructs a Monitor. node drives the distributed ticker so only one
// node in the cluster performs a scan at a time; pass nil to run scans
// purely locally (tests, single-node deployments).
func New(st store.Store, bus eventbus.Bus, node *pool.Node, opts ...Option) *Monitor {
	m := &Monitor{
		store:               st,
		bus:                 bus,
		node:                node,
		scanInterval:        DefaultScanInterval,
		inactivityThreshold: DefaultInactivityThreshold,
		maxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		log:                 telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins the periodic scan loop. It returns once the first ticker is
// established; the scan itself runs in a background goroutine until ctx is
// canceled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.node == nil {
		go m.runLocalLoop(loopCtx)
		return nil
	}

	ticker, err := m.node.NewTicker(loopCtx, "saga-engine:dlq-scan", m.scanInterval)
	if err != nil {
		cancel()
		return fmt.Errorf("dlq: create distributed ticker: %w", err)
	}
	m.ticker = ticker
	go m.runDistributedLoop(loopCtx, ticker)
	return nil
}

// Stop cancels the scan loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
}

func (m *Monitor) runLocalLoop(ctx context.Context) {
	t := time.NewTicker(m.scanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.scanOnce(ctx)
		}
	}
}

func (m *Monitor) runDistributedLoop(ctx context.Context, ticker *pool.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanOnce(ctx)
		}
	}
}

// scanOnce lists every active execution and moves stalled ones to the DLQ.
func (m *Monitor) scanOnce(ctx context.Context) {
	executions, err := m.store.ListActive(ctx)
	if err != nil {
		m.log.Error(ctx, "dlq: list active executions failed", "error", err.Error())
		return
	}
	for _, state := range executions {
		if err := m.evaluate(ctx, state); err != nil {
			m.log.Error(ctx, "dlq: evaluate execution failed", "execution_id", state.ExecutionID, "error", err.Error())
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, state *model.ExecutionState) error {
	idle := time.Since(state.LastActivityAt)
	if idle < m.inactivityThreshold {
		return nil
	}

	attempts, recovered := m.attemptRecovery(ctx, state.ExecutionID)
	if recovered {
		m.log.Info(ctx, "dlq: automatic recovery resumed stalled execution", "execution_id", state.ExecutionID, "attempts", attempts)
		return nil
	}

	var failedSteps []string
	for _, ss := range state.StepStates {
		if ss.Status == model.StepFailed {
			failedSteps = append(failedSteps, ss.StepID)
		}
	}
	requiresHuman := state.Status == model.StatusAwaitingResume || len(failedSteps) > 0

	entry := store.DLQEntry{
		ExecutionID:               state.ExecutionID,
		RequiresHumanIntervention: requiresHuman,
		FailedStepIDs:             failedSteps,
		RecoveryAttempts:          attempts,
		FailureReason:             fmt.Sprintf("idle for %s while in status %s, %d recovery attempt(s) exhausted", idle.Round(time.Second), state.Status, attempts),
		InactiveDuration:          idle.String(),
		MovedAt:                   time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.store.WriteDLQEntry(ctx, entry); err != nil {
		return fmt.Errorf("dlq: write entry: %w", err)
	}
	m.publish(ctx, eventbus.NewMovedToDLQ(state.ExecutionID, requiresHuman, time.Now()))
	return nil
}

// attemptRecovery resumes executionID from its last checkpoint, up to
// maxRecoveryAttempts times, stopping at the first attempt that completes
// without error. It returns how many attempts were made and whether one of
// them succeeded. With no checkpoint manager/resumer configured, or no
// checkpoint on record, it makes zero attempts and reports failure so the
// caller falls straight through to the DLQ write.
func (m *Monitor) attemptRecovery(ctx context.Context, executionID string) (int, bool) {
	if m.checkpoints == nil || m.resumer == nil {
		return 0, false
	}
	maxAttempts := m.maxRecoveryAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRecoveryAttempts
	}
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		if _, err := m.checkpoints.Resume(ctx, executionID, m.resumer); err != nil {
			m.log.Warn(ctx, "dlq: recovery attempt failed", "execution_id", executionID, "attempt", attempts, "error", err.Error())
			continue
		}
		return attempts, true
	}
	return attempts, false
}

// ResumeFromDLQ removes executionID's DLQ entry so the Workflow Machine can
// resume processing it on the next enqueued segment. It does not itself
// enqueue a continuation; callers are expected to follow this with a
// queue.Backend.Enqueue once they've decided how the execution should
// resume (e.g. after a human reviewed and fixed whatever was stuck).
func (m *Monitor) ResumeFromDLQ(ctx context.Context, executionID string) error {
	if _, err := m.store.ReadDLQEntry(ctx, executionID); err != nil {
		return fmt.Errorf("dlq: resume: %w", err)
	}
	return m.store.DeleteDLQEntry(ctx, executionID)
}

// CancelFromDLQ writes a cancellation tombstone and removes the DLQ entry,
// permanently abandoning the execution.
func (m *Monitor) CancelFromDLQ(ctx context.Context, executionID string, reason string) error {
	if err := m.store.WriteCancelTombstone(ctx, executionID, reason); err != nil {
		return fmt.Errorf("dlq: cancel: write tombstone: %w", err)
	}
	if err := m.store.DeleteDLQEntry(ctx, executionID); err != nil {
		return fmt.Errorf("dlq: cancel: delete entry: %w", err)
	}
	m.publish(ctx, eventbus.NewExecutionCancelled(executionID, reason, time.Now()))
	return nil
}

// ListDLQ returns every execution currently parked in the DLQ.
func (m *Monitor) ListDLQ(ctx context.Context) ([]store.DLQEntry, error) {
	return m.store.ListDLQEntries(ctx)
}

func (m *Monitor) publish(ctx context.Context, evt eventbus.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.log.Warn(ctx, "dlq: event publish error", "event_type", string(evt.Type()), "error", err.Error())
	}
}
