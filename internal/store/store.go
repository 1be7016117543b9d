package store

import (
	"context"
	"errors"

	"github.com/sagaworks/saga-engine/internal/model"
)

// Sentinel errors surfaced to callers. Components translate these into their
// own wire-level error taxonomies (lock-held / version-conflict / not-found).
var (
	// ErrNotFound is returned when an execution, checkpoint, or DLQ entry does
	// not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrLockHeld is returned when SETNX fails because another worker (or an
	// unexpired idempotency key) already holds the lock.
	ErrLockHeld = errors.New("store: lock held")
	// ErrConflict is returned when a CAS write loses the race after
	// exhausting its rebase attempts.
	ErrConflict = errors.New("store: version conflict")
)

// Store is the State Store façade consumed by every other component. All
// multi-field ExecutionState updates go through Mutate, which implements a
// read-modify-write-with-CAS loop: the delta function must be a pure
// function of the prior state so it can be safely re-applied on conflict.
type Store interface {
	// CreateExecution writes a brand new ExecutionState. It fails with
	// ErrConflict if an execution with the same ID already exists.
	CreateExecution(ctx context.Context, state *model.ExecutionState) error

	// LoadExecution returns the current ExecutionState. Returns ErrNotFound
	// if no execution with this ID exists.
	LoadExecution(ctx context.Context, executionID string) (*model.ExecutionState, error)

	// Mutate loads the current state, applies delta, and writes the result
	// back with a version-CAS. On a lost race it reloads, re-applies delta
	// to the fresh state, and retries with exponential backoff plus jitter
	// (retry.DefaultOCCConfig) before returning ErrConflict. An error
	// returned by delta, or ErrNotFound, ends the loop and is returned.
	Mutate(ctx context.Context, executionID string, delta func(*model.ExecutionState) error) (*model.ExecutionState, error)

	// AcquireCoarseLock attempts SETNX on exec:{id}:lock with CoarseLockTTL.
	// Returns ErrLockHeld if another worker holds it.
	AcquireCoarseLock(ctx context.Context, executionID string) error
	// ReleaseCoarseLock deletes exec:{id}:lock. Safe to call even if the
	// caller never held it (e.g. it already expired).
	ReleaseCoarseLock(ctx context.Context, executionID string) error

	// AcquireStepLock attempts SETNX on exec:{id}:step:{i}:lock with
	// StepLockTTL. Returns ErrLockHeld on a duplicate delivery of the same
	// (execution_id, step_index) pair.
	AcquireStepLock(ctx context.Context, executionID string, stepNumber int) error

	// WriteCheckpoint persists the checkpoint under exec:{id}:checkpoint with
	// CheckpointTTL, overwriting any checkpoint from a prior segment.
	WriteCheckpoint(ctx context.Context, executionID string, cp model.Checkpoint) error
	// ReadCheckpoint returns the current checkpoint, or ErrNotFound.
	ReadCheckpoint(ctx context.Context, executionID string) (model.Checkpoint, error)
	// DeleteCheckpoint removes the checkpoint. Called on COMPLETED/FAILED/CANCELLED.
	DeleteCheckpoint(ctx context.Context, executionID string) error

	// WriteReplanMarker persists a replan marker under exec:{id}:replan with
	// ReplanMarkerTTL.
	WriteReplanMarker(ctx context.Context, executionID string, marker ReplanMarker) error
	// ReadReplanMarker returns the current replan marker, or ErrNotFound.
	ReadReplanMarker(ctx context.Context, executionID string) (ReplanMarker, error)
	// ClearReplanMarker removes the replan marker.
	ClearReplanMarker(ctx context.Context, executionID string) error

	// WriteDLQEntry moves an execution into the dlq:saga:{id} namespace with
	// DLQEntryTTL.
	WriteDLQEntry(ctx context.Context, entry DLQEntry) error
	// ReadDLQEntry returns a DLQ entry, or ErrNotFound.
	ReadDLQEntry(ctx context.Context, executionID string) (DLQEntry, error)
	// DeleteDLQEntry removes a DLQ entry (on resume or cancel).
	DeleteDLQEntry(ctx context.Context, executionID string) error
	// ListDLQEntries returns every DLQ entry currently tracked, for the
	// /dlq/sagas listing endpoint.
	ListDLQEntries(ctx context.Context) ([]DLQEntry, error)

	// WriteCancelTombstone writes cancelled:{id} with CancelTombstoneTTL.
	WriteCancelTombstone(ctx context.Context, executionID string, reason string) error
	// IsCancelled reports whether a cancellation tombstone exists.
	IsCancelled(ctx context.Context, executionID string) (bool, error)

	// ListActive returns every execution whose status is EXECUTING,
	// AWAITING_RESUME, or COMPENSATING, for the DLQ Monitor's periodic scan.
	ListActive(ctx context.Context) ([]*model.ExecutionState, error)
}

// ReplanMarker is the payload written to exec:{id}:replan.
type ReplanMarker struct {
	FailedStepID       string
	FailureReason      string
	RecommendedAction  string
	Suggestions        []string
	AttemptCount       int
}

// DLQEntry is the payload written to dlq:saga:{id}.
type DLQEntry struct {
	ExecutionID            string
	RequiresHumanIntervention bool
	FailedStepIDs          []string
	RecoveryAttempts       int
	FailureReason          string
	InactiveDuration       string
	MovedAt                string
}
