// =============================================================================
// 📦 AgentGraph 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentgraph/execution/stream"
	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/workflow/validation"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Stream:     DefaultStreamConfig(),
		API:        DefaultAPIConfig(),
		Redis:      DefaultRedisConfig(),
		Validation: validation.DefaultLimits(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultStreamConfig 返回默认事件流配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BaseURL:        "http://localhost:8000",
		Transport:      string(stream.TransportSSE),
		AutoReconnect:  true,
		ReconnectDelay: stream.DefaultReconnectDelay,
		TokenEnv:       "AGENTGRAPH_TOKEN",
	}
}

// DefaultAPIConfig 返回默认控制接口配置
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Timeout:   30 * time.Second,
		RateLimit: 10,
		Burst:     5,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:         false,
		Config:          cache.DefaultConfig(),
		InterventionTTL: 24 * time.Hour,
		SnapshotTTL:     24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentgraph",
		SampleRate:   0.1,
	}
}
