package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/retry"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// clusterMap is the subset of *rmap.Map used here, mirrored from
// features/model/middleware.clusterMap in the teacher so the store can be
// exercised against a fake in unit tests without a live Redis.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Delete(ctx context.Context, key string) error
	Subscribe() <-chan rmap.EventKind
}

// RedisStore implements Store using a Redis client for TTL'd keys (locks,
// idempotency, checkpoints, replan markers, DLQ entries, tombstones) and a
// Pulse replicated map for the ExecutionState document, whose TestAndSet
// supplies the OCC compare-and-swap primitive.
type RedisStore struct {
	redis *goredis.Client
	docs  clusterMap
	occ   retry.Config
	log   telemetry.Logger
}

// NewRedisStore constructs a RedisStore. docs must be joined by the caller
// (rmap.Join(ctx, name, redisClient)) so multiple process instances share
// the same replicated map.
func NewRedisStore(redisClient *goredis.Client, docs *rmap.Map, opts ...Option) *RedisStore {
	s := &RedisStore{
		redis: redisClient,
		docs:  docs,
		occ:   retry.DefaultOCCConfig(),
		log:   telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithLogger sets the store's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *RedisStore) {
		if l != nil {
			s.log = l
		}
	}
}

func (s *RedisStore) CreateExecution(ctx context.Context, state *model.ExecutionState) error {
	if state.Version == 0 {
		state.Version = 1
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}
	ok, err := s.docs.SetIfNotExists(ctx, executionDocKey(state.ExecutionID), string(payload))
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: execution %s already exists", ErrConflict, state.ExecutionID)
	}
	return nil
}

func (s *RedisStore) LoadExecution(ctx context.Context, executionID string) (*model.ExecutionState, error) {
	raw, ok := s.docs.Get(executionDocKey(executionID))
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	var state model.ExecutionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal execution state: %w", err)
	}
	return &state, nil
}

// Mutate implements the read-modify-write-with-CAS loop.
func (s *RedisStore) Mutate(ctx context.Context, executionID string, delta func(*model.ExecutionState) error) (*model.ExecutionState, error) {
	var result *model.ExecutionState
	key := executionDocKey(executionID)

	err := retry.Do(ctx, s.occ, func(err error) bool { return errors.Is(err, errCASLost) }, func(ctx context.Context, attempt int) error {
		raw, ok := s.docs.Get(key)
		if !ok {
			return fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
		}
		var state model.ExecutionState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return fmt.Errorf("unmarshal execution state: %w", err)
		}

		prevVersion := state.Version
		if err := delta(&state); err != nil {
			return err
		}
		state.Version = prevVersion + 1
		state.UpdatedAt = time.Now().UTC()

		newRaw, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("marshal execution state: %w", err)
		}

		actual, err := s.docs.TestAndSet(ctx, key, raw, string(newRaw))
		if err != nil {
			return fmt.Errorf("cas execution state: %w", err)
		}
		if actual != string(newRaw) {
			// Someone else won the race; the retry loop will reload and
			// re-apply delta to the fresh state on the next attempt.
			s.log.Warn(ctx, "occ cas lost race, retrying", "execution_id", executionID, "attempt", attempt)
			return errCASLost
		}
		result = &state
		return nil
	})

	if err != nil {
		if retry.IsExhausted(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	if err := s.IndexActive(ctx, executionID, isActiveStatus(result.Status)); err != nil {
		s.log.Warn(ctx, "active index update failed", "execution_id", executionID, "error", err.Error())
	}
	return result, nil
}

var errCASLost = errors.New("store: cas lost race")

func (s *RedisStore) AcquireCoarseLock(ctx context.Context, executionID string) error {
	return s.setNXTTL(ctx, CoarseLockKey(executionID), CoarseLockTTL)
}

func (s *RedisStore) ReleaseCoarseLock(ctx context.Context, executionID string) error {
	return s.redis.Del(ctx, CoarseLockKey(executionID)).Err()
}

func (s *RedisStore) AcquireStepLock(ctx context.Context, executionID string, stepNumber int) error {
	return s.setNXTTL(ctx, StepLockKey(executionID, stepNumber), StepLockTTL)
}

func (s *RedisStore) setNXTTL(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.redis.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, key)
	}
	return nil
}

func (s *RedisStore) WriteCheckpoint(ctx context.Context, executionID string, cp model.Checkpoint) error {
	return s.writeJSON(ctx, CheckpointKey(executionID), cp, CheckpointTTL)
}

func (s *RedisStore) ReadCheckpoint(ctx context.Context, executionID string) (model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.readJSON(ctx, CheckpointKey(executionID), &cp)
	return cp, err
}

func (s *RedisStore) DeleteCheckpoint(ctx context.Context, executionID string) error {
	return s.redis.Del(ctx, CheckpointKey(executionID)).Err()
}

func (s *RedisStore) WriteReplanMarker(ctx context.Context, executionID string, marker ReplanMarker) error {
	return s.writeJSON(ctx, ReplanMarkerKey(executionID), marker, ReplanMarkerTTL)
}

func (s *RedisStore) ReadReplanMarker(ctx context.Context, executionID string) (ReplanMarker, error) {
	var m ReplanMarker
	err := s.readJSON(ctx, ReplanMarkerKey(executionID), &m)
	return m, err
}

func (s *RedisStore) ClearReplanMarker(ctx context.Context, executionID string) error {
	return s.redis.Del(ctx, ReplanMarkerKey(executionID)).Err()
}

func (s *RedisStore) WriteDLQEntry(ctx context.Context, entry DLQEntry) error {
	return s.writeJSON(ctx, DLQKey(entry.ExecutionID), entry, DLQEntryTTL)
}

func (s *RedisStore) ReadDLQEntry(ctx context.Context, executionID string) (DLQEntry, error) {
	var e DLQEntry
	err := s.readJSON(ctx, DLQKey(executionID), &e)
	return e, err
}

func (s *RedisStore) DeleteDLQEntry(ctx context.Context, executionID string) error {
	return s.redis.Del(ctx, DLQKey(executionID)).Err()
}

func (s *RedisStore) ListDLQEntries(ctx context.Context) ([]DLQEntry, error) {
	var entries []DLQEntry
	iter := s.redis.Scan(ctx, 0, "dlq:saga:*", 200).Iterator()
	for iter.Next(ctx) {
		var e DLQEntry
		raw, err := s.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, iter.Err()
}

func (s *RedisStore) WriteCancelTombstone(ctx context.Context, executionID string, reason string) error {
	return s.redis.Set(ctx, CancelledKey(executionID), reason, CancelTombstoneTTL).Err()
}

func (s *RedisStore) IsCancelled(ctx context.Context, executionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, CancelledKey(executionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListActive scans the replicated map for executions whose status puts them
// in scope for the DLQ Monitor's stall scan. The production rmap does not
// expose a native range/scan call in the subset grounded here, so nodes
// additionally index active execution IDs under a Redis set, updated
// whenever Mutate transitions status into or out of the active set.
func (s *RedisStore) ListActive(ctx context.Context) ([]*model.ExecutionState, error) {
	ids, err := s.redis.SMembers(ctx, activeIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active index: %w", err)
	}
	var out []*model.ExecutionState
	for _, id := range ids {
		st, err := s.LoadExecution(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.redis.SRem(ctx, activeIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if isActiveStatus(st.Status) {
			out = append(out, st)
		} else {
			s.redis.SRem(ctx, activeIndexKey, id)
		}
	}
	return out, nil
}

const activeIndexKey = "exec:active-index"

func isActiveStatus(status model.ExecutionStatus) bool {
	switch status {
	case model.StatusExecuting, model.StatusAwaitingResume, model.StatusCompensating:
		return true
	default:
		return false
	}
}

// IndexActive maintains the Redis set backing ListActive; Mutate calls this
// after every successful write.
func (s *RedisStore) IndexActive(ctx context.Context, executionID string, active bool) error {
	if active {
		return s.redis.SAdd(ctx, activeIndexKey, executionID).Err()
	}
	return s.redis.SRem(ctx, activeIndexKey, executionID).Err()
}

func (s *RedisStore) writeJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.redis.Set(ctx, key, raw, ttl).Err()
}

func (s *RedisStore) readJSON(ctx context.Context, key string, v any) error {
	raw, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

var _ Store = (*RedisStore)(nil)
