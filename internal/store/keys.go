// Package store implements the durable key-value layer holding execution
// state, idempotency locks, checkpoints, DLQ entries, and replan markers,
// with TTLs.
//
// The execution document itself is held in a goa.design/pulse replicated map
// (rmap), whose TestAndSet gives the optimistic-concurrency CAS primitive
// the Mutate loop needs. Locks, idempotency keys, checkpoints, the replan
// marker, DLQ entries, and cancellation tombstones are plain Redis keys with
// TTLs, set directly through github.com/redis/go-redis/v9, mirroring how
// registry/health_tracker.go in the teacher layers raw Redis operations
// alongside a Pulse replicated map.
package store

import (
	"fmt"
	"time"
)

// Default TTLs for the keyspace.
const (
	CoarseLockTTL     = 30 * time.Second
	StepLockTTL       = 3600 * time.Second
	CheckpointTTL     = 24 * time.Hour
	ReplanMarkerTTL   = 300 * time.Second
	DLQEntryTTL       = 7 * 24 * time.Hour
	CancelTombstoneTTL = 7 * 24 * time.Hour
)

// CoarseLockKey returns the per-execution lock key "exec:{id}:lock".
func CoarseLockKey(executionID string) string {
	return fmt.Sprintf("exec:%s:lock", executionID)
}

// StepLockKey returns the per-step idempotency key "exec:{id}:step:{i}:lock".
func StepLockKey(executionID string, stepNumber int) string {
	return fmt.Sprintf("exec:%s:step:%d:lock", executionID, stepNumber)
}

// CheckpointKey returns the checkpoint key "exec:{id}:checkpoint".
func CheckpointKey(executionID string) string {
	return fmt.Sprintf("exec:%s:checkpoint", executionID)
}

// ReplanMarkerKey returns the replan marker key "exec:{id}:replan".
func ReplanMarkerKey(executionID string) string {
	return fmt.Sprintf("exec:%s:replan", executionID)
}

// DLQKey returns the DLQ namespace key "dlq:saga:{id}".
func DLQKey(executionID string) string {
	return fmt.Sprintf("dlq:saga:%s", executionID)
}

// CancelledKey returns the cancellation tombstone key "cancelled:{id}".
func CancelledKey(executionID string) string {
	return fmt.Sprintf("cancelled:%s", executionID)
}

// executionDocKey is the key under which the ExecutionState JSON document
// lives in the replicated map.
func executionDocKey(executionID string) string {
	return fmt.Sprintf("exec:%s:state", executionID)
}
