package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sagaworks/saga-engine/internal/model"
)

// MemoryStore is an in-process Store implementation backing unit tests. It
// reproduces RedisStore's version bump and lock TTLs without a live Redis
// (checkpoints, replan markers and DLQ entries do not expire here), using
// deep copies through JSON round-trip
// so callers can never mutate state out from under the store.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]*executionEntry
	locks      map[string]time.Time
	checkpoints map[string]model.Checkpoint
	replans    map[string]ReplanMarker
	dlq        map[string]DLQEntry
	cancelled  map[string]string
	active     map[string]bool
}

type executionEntry struct {
	state   *model.ExecutionState
	version int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:  make(map[string]*executionEntry),
		locks:       make(map[string]time.Time),
		checkpoints: make(map[string]model.Checkpoint),
		replans:     make(map[string]ReplanMarker),
		dlq:         make(map[string]DLQEntry),
		cancelled:   make(map[string]string),
		active:      make(map[string]bool),
	}
}

func cloneState(state *model.ExecutionState) (*model.ExecutionState, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out model.ExecutionState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, state *model.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[state.ExecutionID]; exists {
		return ErrConflict
	}
	if state.Version == 0 {
		state.Version = 1
	}
	clone, err := cloneState(state)
	if err != nil {
		return err
	}
	m.executions[state.ExecutionID] = &executionEntry{state: clone, version: clone.Version}
	return nil
}

func (m *MemoryStore) LoadExecution(_ context.Context, executionID string) (*model.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.executions[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneState(entry.state)
}

func (m *MemoryStore) Mutate(_ context.Context, executionID string, delta func(*model.ExecutionState) error) (*model.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.executions[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	working, err := cloneState(entry.state)
	if err != nil {
		return nil, err
	}
	if err := delta(working); err != nil {
		return nil, err
	}
	working.Version = entry.version + 1
	working.UpdatedAt = time.Now().UTC()

	stored, err := cloneState(working)
	if err != nil {
		return nil, err
	}
	entry.state = stored
	entry.version = stored.Version
	return cloneState(stored)
}

func (m *MemoryStore) AcquireCoarseLock(_ context.Context, executionID string) error {
	return m.acquireLock(CoarseLockKey(executionID), CoarseLockTTL)
}

func (m *MemoryStore) ReleaseCoarseLock(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, CoarseLockKey(executionID))
	return nil
}

func (m *MemoryStore) AcquireStepLock(_ context.Context, executionID string, stepNumber int) error {
	return m.acquireLock(StepLockKey(executionID, stepNumber), StepLockTTL)
}

func (m *MemoryStore) acquireLock(key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, held := m.locks[key]; held && time.Now().Before(expiry) {
		return ErrLockHeld
	}
	m.locks[key] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) WriteCheckpoint(_ context.Context, executionID string, cp model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[executionID] = cp
	return nil
}

func (m *MemoryStore) ReadCheckpoint(_ context.Context, executionID string) (model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[executionID]
	if !ok {
		return model.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *MemoryStore) DeleteCheckpoint(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, executionID)
	return nil
}

func (m *MemoryStore) WriteReplanMarker(_ context.Context, executionID string, marker ReplanMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replans[executionID] = marker
	return nil
}

func (m *MemoryStore) ReadReplanMarker(_ context.Context, executionID string) (ReplanMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.replans[executionID]
	if !ok {
		return ReplanMarker{}, ErrNotFound
	}
	return marker, nil
}

func (m *MemoryStore) ClearReplanMarker(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.replans, executionID)
	return nil
}

func (m *MemoryStore) WriteDLQEntry(_ context.Context, entry DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq[entry.ExecutionID] = entry
	return nil
}

func (m *MemoryStore) ReadDLQEntry(_ context.Context, executionID string) (DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.dlq[executionID]
	if !ok {
		return DLQEntry{}, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryStore) DeleteDLQEntry(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dlq, executionID)
	return nil
}

func (m *MemoryStore) ListDLQEntries(_ context.Context) ([]DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DLQEntry, 0, len(m.dlq))
	for _, entry := range m.dlq {
		out = append(out, entry)
	}
	return out, nil
}

func (m *MemoryStore) WriteCancelTombstone(_ context.Context, executionID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[executionID] = reason
	return nil
}

func (m *MemoryStore) IsCancelled(_ context.Context, executionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelled[executionID]
	return ok, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*model.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ExecutionState
	for id, entry := range m.executions {
		if !isActiveStatus(entry.state.Status) {
			continue
		}
		clone, err := cloneState(entry.state)
		if err != nil {
			return nil, err
		}
		_ = id
		out = append(out, clone)
	}
	return out, nil
}

// IndexActive is a no-op on MemoryStore: ListActive derives activity directly
// from each execution's Status, so there is no separate index to maintain.
func (m *MemoryStore) IndexActive(context.Context, string, bool) error { return nil }

var _ Store = (*MemoryStore)(nil)
