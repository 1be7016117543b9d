// Package temporalqueue implements queue.Backend on top of a Temporal task
// queue: instead of posting a signed HTTP callback, Enqueue signals (or
// starts, if not already running) a long-lived per-execution Temporal
// workflow that drives segments as they arrive. Grounded in the Temporal
// client usage of runtime/agent/engine/temporal in the teacher, generalized
// from agent workflows to saga segment continuations.
package temporalqueue

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/sagaworks/saga-engine/internal/queue"
)

// RunSegmentSignal is the Temporal signal name the saga workflow listens on
// for continuation requests.
const RunSegmentSignal = "run-segment"

// Backend delivers jobs as Temporal signals, starting the target workflow on
// first delivery for a given execution.
type Backend struct {
	client       client.Client
	taskQueue    string
	workflowName string
}

// New constructs a Backend bound to an already-connected Temporal client.
// workflowName must be registered with the worker pool that executes saga
// segments; taskQueue is the queue that worker polls.
func New(c client.Client, taskQueue, workflowName string) *Backend {
	return &Backend{client: c, taskQueue: taskQueue, workflowName: workflowName}
}

func (b *Backend) Enqueue(ctx context.Context, job queue.Job) error {
	workflowID := "saga-" + job.ExecutionID
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: b.taskQueue,
	}
	_, err := b.client.SignalWithStartWorkflow(ctx, workflowID, RunSegmentSignal, job, opts, b.workflowName, job)
	if err != nil {
		return mapSignalError(workflowID, err)
	}
	return nil
}

// mapSignalError distinguishes a gone-or-completed workflow, which the DLQ
// Monitor should not keep retrying, from any other delivery failure.
func mapSignalError(workflowID string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	var failedPrecondition *serviceerror.FailedPrecondition
	if errors.As(err, &notFound) || errors.As(err, &failedPrecondition) {
		return fmt.Errorf("temporalqueue: %s: %w", workflowID, queue.ErrExecutionWorkflowGone)
	}
	return fmt.Errorf("temporalqueue: signal-with-start %s: %w", workflowID, err)
}

var _ queue.Backend = (*Backend)(nil)
