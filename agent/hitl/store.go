package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/types"
)

// Store 定义了待处理干预的存储接口.
type Store interface {
	Save(ctx context.Context, in *Intervention) error
	Load(ctx context.Context, executionID, interventionID string) (*Intervention, error)
	List(ctx context.Context, executionID string) ([]*Intervention, error)
	Delete(ctx context.Context, executionID, interventionID string) error
}

// sortInterventions 按创建时间、再按 ID 排序.
func sortInterventions(list []*Intervention) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].InterventionID < list[j].InterventionID
	})
}

func notFound(executionID, interventionID string) error {
	return types.Errorf(types.ErrNotFound, "intervention %s not found for execution %s", interventionID, executionID)
}

// MemoryStore 为干预提供进程内存储.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]*Intervention
}

// NewMemoryStore 创建内存存储.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]*Intervention)}
}

func (s *MemoryStore) Save(_ context.Context, in *Intervention) error {
	if in == nil || in.ExecutionID == "" || in.InterventionID == "" {
		return types.NewError(types.ErrInvalidRequest, "intervention requires execution and intervention ids")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.items[in.ExecutionID]
	if !ok {
		byID = make(map[string]*Intervention)
		s.items[in.ExecutionID] = byID
	}
	cp := *in
	byID[in.InterventionID] = &cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, executionID, interventionID string) (*Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.items[executionID][interventionID]
	if !ok {
		return nil, notFound(executionID, interventionID)
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, executionID string) ([]*Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]*Intervention, 0, len(s.items[executionID]))
	for _, in := range s.items[executionID] {
		cp := *in
		results = append(results, &cp)
	}
	sortInterventions(results)
	return results, nil
}

func (s *MemoryStore) Delete(_ context.Context, executionID, interventionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[executionID], interventionID)
	if len(s.items[executionID]) == 0 {
		delete(s.items, executionID)
	}
	return nil
}

// RedisStore 把每个执行的干预保存在一个 Redis 哈希中，字段为干预 ID.
type RedisStore struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewRedisStore 创建 Redis 存储，ttl 为 0 时使用缓存默认过期时间.
func NewRedisStore(c *cache.Manager, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) key(executionID string) string {
	return s.cache.Key("interventions", executionID)
}

func (s *RedisStore) Save(ctx context.Context, in *Intervention) error {
	if in == nil || in.ExecutionID == "" || in.InterventionID == "" {
		return types.NewError(types.ErrInvalidRequest, "intervention requires execution and intervention ids")
	}
	if err := s.cache.HSetJSON(ctx, s.key(in.ExecutionID), in.InterventionID, in, s.ttl); err != nil {
		return fmt.Errorf("save intervention %s: %w", in.InterventionID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, executionID, interventionID string) (*Intervention, error) {
	var in Intervention
	if err := s.cache.HGetJSON(ctx, s.key(executionID), interventionID, &in); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, notFound(executionID, interventionID)
		}
		return nil, fmt.Errorf("load intervention %s: %w", interventionID, err)
	}
	return &in, nil
}

func (s *RedisStore) List(ctx context.Context, executionID string) ([]*Intervention, error) {
	vals, err := s.cache.HGetAll(ctx, s.key(executionID))
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", err)
	}
	results := make([]*Intervention, 0, len(vals))
	for field, raw := range vals {
		var in Intervention
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			return nil, fmt.Errorf("decode intervention %s: %w", field, err)
		}
		results = append(results, &in)
	}
	sortInterventions(results)
	return results, nil
}

func (s *RedisStore) Delete(ctx context.Context, executionID, interventionID string) error {
	if _, err := s.cache.HDel(ctx, s.key(executionID), interventionID); err != nil {
		return fmt.Errorf("delete intervention %s: %w", interventionID, err)
	}
	return nil
}
