package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/types"
)

// SnapshotStore persists execution snapshots so a restarted watcher can
// resume display of an execution.
type SnapshotStore interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, executionID string) (*State, error)
	Delete(ctx context.Context, executionID string) error
}

// MemorySnapshotStore keeps snapshots in process.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*State
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*State)}
}

func (m *MemorySnapshotStore) Save(_ context.Context, s *State) error {
	if s == nil || s.ExecutionID == "" {
		return types.NewError(types.ErrInvalidRequest, "snapshot requires an execution id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ExecutionID] = s.clone()
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context, executionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[executionID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "no snapshot for execution %s", executionID)
	}
	return s.clone(), nil
}

func (m *MemorySnapshotStore) Delete(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, executionID)
	return nil
}

// RedisSnapshotStore keeps snapshots as JSON documents in Redis.
type RedisSnapshotStore struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewRedisSnapshotStore stores snapshots through the cache manager. A zero
// ttl uses the manager default.
func NewRedisSnapshotStore(c *cache.Manager, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{cache: c, ttl: ttl}
}

func (r *RedisSnapshotStore) key(executionID string) string {
	return r.cache.Key("executions", executionID, "snapshot")
}

func (r *RedisSnapshotStore) Save(ctx context.Context, s *State) error {
	if s == nil || s.ExecutionID == "" {
		return types.NewError(types.ErrInvalidRequest, "snapshot requires an execution id")
	}
	if err := r.cache.SetJSON(ctx, r.key(s.ExecutionID), s, r.ttl); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.ExecutionID, err)
	}
	return nil
}

func (r *RedisSnapshotStore) Load(ctx context.Context, executionID string) (*State, error) {
	s := NewState(executionID)
	if err := r.cache.GetJSON(ctx, r.key(executionID), s); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, types.Errorf(types.ErrNotFound, "no snapshot for execution %s", executionID)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", executionID, err)
	}
	return s.clone(), nil
}

func (r *RedisSnapshotStore) Delete(ctx context.Context, executionID string) error {
	return r.cache.Delete(ctx, r.key(executionID))
}

// PersistOnTransition returns a listener that saves the tracker snapshot
// after every transition. Save errors go to onError.
func PersistOnTransition(t *Tracker, store SnapshotStore, onError func(error)) TransitionListener {
	return func(string, Transition) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Save(ctx, t.Snapshot()); err != nil && onError != nil {
			onError(err)
		}
	}
}
