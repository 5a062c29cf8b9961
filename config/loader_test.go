// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sse", cfg.Stream.Transport)
	assert.Equal(t, 5, cfg.Validation.MaxAgents)
	assert.False(t, cfg.Redis.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
stream:
  base_url: https://exec.example.com
  transport: websocket
  reconnect_delay: 5s
redis:
  enabled: true
  addr: redis.example.com:6379
  password: secret
  db: 1
  intervention_ttl: 1h
validation:
  max_agents: 8
log:
  level: debug
  format: console
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "websocket", cfg.Stream.Transport)
	assert.Equal(t, 5*time.Second, cfg.Stream.ReconnectDelay)
	assert.True(t, cfg.Stream.AutoReconnect, "unset keys keep defaults")

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "agentgraph:", cfg.Redis.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.Redis.InterventionTTL)

	assert.Equal(t, 8, cfg.Validation.MaxAgents)
	assert.Equal(t, 1, cfg.Validation.MinAgents)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "https://exec.example.com", cfg.ExecutionBaseURL())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTGRAPH_SERVER_HTTP_PORT", "7777")
	t.Setenv("AGENTGRAPH_STREAM_AUTO_RECONNECT", "false")
	t.Setenv("AGENTGRAPH_API_RATE_LIMIT", "2.5")
	t.Setenv("AGENTGRAPH_REDIS_ADDR", "env-redis:6379")
	t.Setenv("AGENTGRAPH_REDIS_SNAPSHOT_TTL", "90m")
	t.Setenv("AGENTGRAPH_VALIDATION_MAX_TEMPERATURE", "1.5")
	t.Setenv("AGENTGRAPH_LOG_OUTPUT_PATHS", "stdout, /var/log/agentgraph.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.False(t, cfg.Stream.AutoReconnect)
	assert.Equal(t, 2.5, cfg.API.RateLimit)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Minute, cfg.Redis.SnapshotTTL)
	assert.Equal(t, 1.5, cfg.Validation.MaxTemperature)
	assert.Equal(t, []string{"stdout", "/var/log/agentgraph.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8888\nlog:\n  level: debug\n")
	t.Setenv("AGENTGRAPH_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("AG_SERVER_HTTP_PORT", "6000")
	t.Setenv("AGENTGRAPH_SERVER_HTTP_PORT", "7000")

	cfg, err := NewLoader().WithEnvPrefix("AG").Load()
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.HTTPPort)
}

func TestLoader_Errors(t *testing.T) {
	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [")
		_, err := NewLoader().WithConfigPath(path).Load()
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("invalid env value", func(t *testing.T) {
		t.Setenv("AGENTGRAPH_STREAM_RECONNECT_DELAY", "soon")
		_, err := NewLoader().Load()
		assert.ErrorContains(t, err, "AGENTGRAPH_STREAM_RECONNECT_DELAY")
	})

	t.Run("validator", func(t *testing.T) {
		t.Setenv("AGENTGRAPH_SERVER_HTTP_PORT", "0")
		_, err := NewLoader().WithValidator((*Config).Validate).Load()
		assert.ErrorContains(t, err, "server.http_port")
	})
}

func TestMustLoad(t *testing.T) {
	assert.NotPanics(t, func() { MustLoad("") })
	path := writeConfig(t, "log: {level: [}")
	assert.Panics(t, func() { MustLoad(path) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.HTTPPort = 70000 }, "server.http_port"},
		{"transport", func(c *Config) { c.Stream.Transport = "grpc" }, "stream.transport"},
		{"relative url", func(c *Config) { c.API.BaseURL = "/exec" }, "api.base_url"},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"agent bounds", func(c *Config) { c.Validation.MaxAgents = 0 }, "agent bounds"},
		{"timeout bounds", func(c *Config) { c.Validation.MaxWorkflowTimeout = 10 }, "workflow timeout bounds"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("errors are aggregated", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.HTTPPort = -1
		cfg.Log.Level = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.http_port")
		assert.Contains(t, err.Error(), "log.level")
	})
}

func TestConfig_ExecutionBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.Stream.BaseURL, cfg.ExecutionBaseURL())
	cfg.API.BaseURL = "https://control.example.com"
	assert.Equal(t, "https://control.example.com", cfg.ExecutionBaseURL())
}
