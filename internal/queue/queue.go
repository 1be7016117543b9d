// Package queue implements the job queue that chains segmented executions:
// after a Workflow Machine segment returns, it enqueues a job asking some
// worker (possibly this one, possibly another process) to run the next
// segment. Two backends are provided: httpqueue, a signed retryable HTTP
// webhook queue, and temporalqueue, which rides on a Temporal task queue the
// way the teacher's engine/temporal adapter does for its own workflows.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrExecutionWorkflowGone means the backend's durable carrier for an
// execution (e.g. a Temporal workflow) no longer exists or has already
// reached a terminal state — enqueuing a further segment for it cannot
// succeed and the caller should treat the execution as done rather than
// retry the enqueue.
var ErrExecutionWorkflowGone = errors.New("queue: execution's workflow is gone or already completed")

// Job describes one segment continuation to deliver to a worker.
type Job struct {
	ExecutionID   string
	SegmentNumber int
	// NotBefore, when set, delays delivery until that time. The engine's
	// own enqueue calls leave it zero.
	NotBefore time.Time
	// Reason is a short label saying why the job was enqueued (for example
	// "step success", "checkpoint", "replanned").
	Reason string
}

// Backend delivers segment-continuation jobs to workers.
type Backend interface {
	// Enqueue schedules job for delivery. Implementations must be safe to
	// call from within a Workflow Machine segment that is about to return.
	Enqueue(ctx context.Context, job Job) error
}

// Handler processes one delivered Job. The Workflow Machine implements this
// to drive a single segment to completion.
type Handler func(ctx context.Context, job Job) error

// EnqueueResumer adapts a Backend to satisfy checkpoint.Resumer by
// re-enqueuing a continuation job rather than executing the segment inline.
// It exists for processes that carry a Backend but no Workflow Machine of
// their own — the standalone DLQ Monitor recovers a stalled execution by
// handing it back to a worker that does, instead of running the segment
// itself.
type EnqueueResumer struct {
	Backend Backend
	// Reason labels the enqueued job; defaults to "dlq recovery".
	Reason string
}

// RunSegment enqueues a continuation job for executionID at segmentNumber
// and returns immediately; it does not wait for the segment to run.
func (r EnqueueResumer) RunSegment(ctx context.Context, executionID string, segmentNumber int) (any, error) {
	reason := r.Reason
	if reason == "" {
		reason = "dlq recovery"
	}
	if err := r.Backend.Enqueue(ctx, Job{ExecutionID: executionID, SegmentNumber: segmentNumber, Reason: reason}); err != nil {
		return nil, err
	}
	return nil, nil
}
