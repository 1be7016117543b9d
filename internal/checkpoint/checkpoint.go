// Package checkpoint implements the Checkpoint Manager (C6): it durably
// records the cursor an execution should resume from before a continuation
// job is enqueued, so a worker that dies mid-segment never loses its place.
// Grounded on the Redis-primary-plus-Mongo-mirror shape of
// features/runlog/mongo in the teacher, generalized from an append-only
// event log to an overwritten single-document cursor.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/outbox"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// Manager is the Checkpoint Manager.
type Manager struct {
	store  store.Store
	mirror outbox.Mirror
	trace  func(ctx context.Context) string
	log    telemetry.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMirror installs a durable mirror (internal/outbox) that records every
// checkpoint to a secondary store for audit and recovery-by-inspection, in
// addition to the primary Redis checkpoint key.
func WithMirror(m outbox.Mirror) Option {
	return func(mgr *Manager) { mgr.mirror = m }
}

// WithTraceIDFunc installs a function extracting the active trace ID from
// ctx, stamped onto every checkpoint for correlation.
func WithTraceIDFunc(f func(ctx context.Context) string) Option {
	return func(mgr *Manager) { mgr.trace = f }
}

// WithLogger sets the manager's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(mgr *Manager) {
		if l != nil {
			mgr.log = l
		}
	}
}

// New constructs a Manager over st.
func New(st store.Store, opts ...Option) *Manager {
	m := &Manager{store: st, log: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Checkpoint writes the durable cursor for executionID at the given segment
// number and reason, before any continuation job is enqueued. Must be
// called before queue.Backend.Enqueue so a worker crash between the two
// never leaves an enqueued job pointing at a cursor nobody recorded.
func (m *Manager) Checkpoint(ctx context.Context, executionID string, cursor int, reason string) error {
	traceID := ""
	if m.trace != nil {
		traceID = m.trace(ctx)
	}
	cp := model.Checkpoint{
		Cursor:    cursor,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
		TraceID:   traceID,
	}
	if err := m.store.WriteCheckpoint(ctx, executionID, cp); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if m.mirror != nil {
		if err := m.mirror.RecordCheckpoint(ctx, executionID, cp); err != nil {
			m.log.Warn(ctx, "checkpoint: mirror record failed", "execution_id", executionID, "error", err.Error())
		}
	}
	return nil
}

// Load returns the current checkpoint for executionID, or store.ErrNotFound
// if none exists.
func (m *Manager) Load(ctx context.Context, executionID string) (model.Checkpoint, error) {
	return m.store.ReadCheckpoint(ctx, executionID)
}

// Clear removes the checkpoint, called once an execution reaches a terminal
// status.
func (m *Manager) Clear(ctx context.Context, executionID string) error {
	return m.store.DeleteCheckpoint(ctx, executionID)
}

// Resumer runs one segment starting from a loaded checkpoint's cursor. The
// Workflow Machine implements this; checkpoint only orchestrates the
// load-then-resume sequence and the segment-number bump.
type Resumer interface {
	RunSegment(ctx context.Context, executionID string, segmentNumber int) (any, error)
}

// Resume loads the checkpoint for executionID and resumes it through r,
// incrementing the segment number from the one recorded at checkpoint time.
func (m *Manager) Resume(ctx context.Context, executionID string, r Resumer) (any, error) {
	cp, err := m.store.ReadCheckpoint(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load for resume: %w", err)
	}
	return r.RunSegment(ctx, executionID, cp.Cursor+1)
}
