// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 基于 Redis 的键值与哈希存储，供干预队列和执行快照使用
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`

	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`

	// 键前缀，所有键都会带上该前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`

	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "agentgraph:",
		DefaultTTL:          24 * time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewManager 创建缓存管理器并检测连接
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
	)

	return m, nil
}

// Key 拼接带前缀的键
func (m *Manager) Key(parts ...string) string {
	return m.config.KeyPrefix + strings.Join(parts, ":")
}

// =============================================================================
// 🎯 键值操作
// =============================================================================

func (m *Manager) checkOpen() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Manager) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return m.config.DefaultTTL
	}
	return ttl
}

// Get 获取缓存值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return "", err
	}

	val, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, nil
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (m *Manager) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	if err := m.redis.Set(ctx, key, value, m.ttl(ttl)).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// GetJSON 获取 JSON 缓存值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON 设置 JSON 缓存值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// =============================================================================
// 🗂️ 哈希操作
// =============================================================================

// HSetJSON 将 value 序列化后写入哈希字段，并刷新整个哈希的过期时间
func (m *Manager) HSetJSON(ctx context.Context, key, field string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal hash value: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	pipe := m.redis.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, m.ttl(ttl))
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("cache hset failed", zap.String("key", key), zap.String("field", field), zap.Error(err))
		return fmt.Errorf("cache hset failed: %w", err)
	}
	return nil
}

// HGetJSON 读取哈希字段并反序列化，字段不存在时返回 ErrCacheMiss
func (m *Manager) HGetJSON(ctx context.Context, key, field string, dest any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	val, err := m.redis.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache hget failed: %w", err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal hash value: %w", err)
	}
	return nil
}

// HGetAll 读取整个哈希
func (m *Manager) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	vals, err := m.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache hgetall failed: %w", err)
	}
	return vals, nil
}

// HDel 删除哈希字段，返回实际删除的数量
func (m *Manager) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, nil
	}

	n, err := m.redis.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache hdel failed: %w", err)
	}
	return n, nil
}

// Exists 检查键是否存在
func (m *Manager) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	count, err := m.redis.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache exists check failed: %w", err)
	}
	return count, nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("cache health check failed", zap.Error(err))
		}
		cancel()
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Keys        int64  `json:"keys"`
	UsedMemory  int64  `json:"used_memory"`
	Connections int    `json:"connections"`
}

// GetStats 从 INFO 输出中提取统计信息
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	info, err := m.redis.Info(ctx, "stats", "memory", "clients", "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis info: %w", err)
	}
	return parseInfo(info), nil
}

func parseInfo(info string) *Stats {
	stats := &Stats{}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		name, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		switch {
		case name == "keyspace_hits":
			stats.Hits, _ = strconv.ParseUint(value, 10, 64)
		case name == "keyspace_misses":
			stats.Misses, _ = strconv.ParseUint(value, 10, 64)
		case name == "used_memory":
			stats.UsedMemory, _ = strconv.ParseInt(value, 10, 64)
		case name == "connected_clients":
			stats.Connections, _ = strconv.Atoi(value)
		case strings.HasPrefix(name, "db"):
			// db0:keys=3,expires=0,avg_ttl=0
			for _, kv := range strings.Split(value, ",") {
				if k, v, ok := strings.Cut(kv, "="); ok && k == "keys" {
					n, _ := strconv.ParseInt(v, 10, 64)
					stats.Keys += n
				}
			}
		}
	}
	return stats
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var (
	// ErrCacheMiss 缓存未命中
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
