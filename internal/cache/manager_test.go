package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	// 创建 miniredis 实例
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// 创建 Manager
	logger := zap.NewNop()
	config := Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: 1 * time.Minute,
	}

	manager, err := NewManager(config, logger)
	require.NoError(t, err)

	return mr, manager
}

func TestNewManager(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.redis)
	assert.NotNil(t, manager.logger)
	assert.Equal(t, "test:interventions:exec-1", manager.Key("interventions", "exec-1"))
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 设置值
	err := manager.Set(ctx, "test-key", "test-value", 1*time.Minute)
	require.NoError(t, err)

	// 获取值
	value, err := manager.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "test-value", value)
}

func TestManager_GetNonExistent(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 获取不存在的键
	value, err := manager.Get(ctx, "non-existent")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, "", value)
}

func TestManager_Delete(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 设置值
	err := manager.Set(ctx, "test-key", "test-value", 1*time.Minute)
	require.NoError(t, err)

	// 删除值
	err = manager.Delete(ctx, "test-key")
	require.NoError(t, err)

	// 验证已删除
	_, err = manager.Get(ctx, "test-key")
	assert.Error(t, err)
}

func TestManager_SetJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	type TestData struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	data := TestData{
		Name:  "test",
		Value: 123,
	}

	// 设置 JSON
	err := manager.SetJSON(ctx, "test-json", data, 1*time.Minute)
	require.NoError(t, err)

	// 获取 JSON
	var result TestData
	err = manager.GetJSON(ctx, "test-json", &result)
	require.NoError(t, err)

	assert.Equal(t, data.Name, result.Name)
	assert.Equal(t, data.Value, result.Value)
}

func TestManager_GetJSONNonExistent(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	var result map[string]any
	err := manager.GetJSON(ctx, "non-existent", &result)
	assert.Error(t, err)
}

func TestManager_SetJSONInvalidData(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 尝试序列化无法序列化的数据
	invalidData := make(chan int)
	err := manager.SetJSON(ctx, "test-invalid", invalidData, 1*time.Minute)
	assert.Error(t, err)
}

func TestManager_GetJSONInvalidJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 设置无效的 JSON 字符串
	err := manager.Set(ctx, "test-invalid-json", "not a json", 1*time.Minute)
	require.NoError(t, err)

	// 尝试获取为 JSON
	var result map[string]any
	err = manager.GetJSON(ctx, "test-invalid-json", &result)
	assert.Error(t, err)
}

func TestManager_TTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 设置带 TTL 的值
	err := manager.Set(ctx, "test-ttl", "value", 100*time.Millisecond)
	require.NoError(t, err)

	// 立即获取应该成功
	value, err := manager.Get(ctx, "test-ttl")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	// 快进时间
	mr.FastForward(200 * time.Millisecond)

	// 现在应该过期了
	_, err = manager.Get(ctx, "test-ttl")
	assert.Error(t, err)
}

func TestManager_HealthCheck(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// Ping 应该成功
	err := manager.Ping(ctx)
	assert.NoError(t, err)
}

func TestManager_HealthCheckFailed(t *testing.T) {
	logger := zap.NewNop()
	config := Config{
		Addr: "localhost:9999", // 不存在的地址
	}

	manager, err := NewManager(config, logger)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	// 并发写入
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			key := "concurrent-" + string(rune('0'+id))
			err := manager.Set(ctx, key, "value", 1*time.Minute)
			assert.NoError(t, err)
			done <- true
		}(i)
	}

	// 等待所有写入完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 并发读取
	for i := 0; i < 10; i++ {
		go func(id int) {
			key := "concurrent-" + string(rune('0'+id))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
			done <- true
		}(i)
	}

	// 等待所有读取完成
	for i := 0; i < 10; i++ {
		<-done
	}
}

// =============================================================================
// 🗂️ 哈希测试
// =============================================================================

func TestManager_HashJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()
	key := manager.Key("interventions", "exec-1")

	type entry struct {
		AgentID string `json:"agent_id"`
	}

	require.NoError(t, manager.HSetJSON(ctx, key, "i-1", entry{AgentID: "a"}, 0))
	require.NoError(t, manager.HSetJSON(ctx, key, "i-2", entry{AgentID: "b"}, 0))

	var got entry
	require.NoError(t, manager.HGetJSON(ctx, key, "i-2", &got))
	assert.Equal(t, "b", got.AgentID)

	all, err := manager.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// 哈希整体带过期时间
	assert.Equal(t, time.Minute, mr.TTL(key))

	n, err := manager.HDel(ctx, key, "i-1", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = manager.HGetJSON(ctx, key, "i-1", &got)
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Closed(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\nkeyspace_hits:12\r\nkeyspace_misses:3\r\n" +
		"# Memory\r\nused_memory:1024\r\n" +
		"# Clients\r\nconnected_clients:4\r\n" +
		"# Keyspace\r\ndb0:keys=5,expires=1,avg_ttl=0\r\ndb1:keys=2,expires=0,avg_ttl=0\r\n"

	stats := parseInfo(info)
	assert.Equal(t, uint64(12), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, int64(1024), stats.UsedMemory)
	assert.Equal(t, 4, stats.Connections)
	assert.Equal(t, int64(7), stats.Keys)
}
