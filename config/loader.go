// =============================================================================
// 📦 AgentGraph 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentgraph.yaml").
//	    WithEnvPrefix("AGENTGRAPH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/execution/stream"
	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/workflow/validation"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 是环境变量前缀
const DefaultEnvPrefix = "AGENTGRAPH"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentGraph 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Stream 执行事件流配置
	Stream StreamConfig `yaml:"stream" env:"STREAM"`

	// API 执行服务控制接口配置
	API APIConfig `yaml:"api" env:"API"`

	// Redis 干预与快照存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Validation 模板校验限制
	Validation validation.Limits `yaml:"validation" env:"VALIDATION"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示挂在主端口的 /metrics 上
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT 签名密钥，非空时 /api/ 路由需要 Bearer 认证
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// StreamConfig 事件流消费配置
type StreamConfig struct {
	// 执行服务地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 传输方式: sse, websocket
	Transport string `yaml:"transport" env:"TRANSPORT"`
	// 断线后是否自动重连
	AutoReconnect bool `yaml:"auto_reconnect" env:"AUTO_RECONNECT"`
	// 重连延迟
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	// 存放访问令牌的环境变量名
	TokenEnv string `yaml:"token_env" env:"TOKEN_ENV"`
	// 额外信任的 CA 证书（PEM），用于私有部署的执行服务
	CAFile string `yaml:"ca_file" env:"CA_FILE"`
}

// APIConfig 执行服务控制接口配置
type APIConfig struct {
	// 执行服务地址，空时沿用 Stream.BaseURL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 出站每秒请求数，0 表示不限流
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 出站限流突发量
	Burst int `yaml:"burst" env:"BURST"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用，关闭时干预与快照保存在内存中
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连接配置
	cache.Config `yaml:",inline"`
	// 待处理干预的过期时间
	InterventionTTL time.Duration `yaml:"intervention_ttl" env:"INTERVENTION_TTL"`
	// 执行快照的过期时间
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，匿名嵌入字段沿用当前前缀
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if fieldType.Anonymous && field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 形式解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，汇总所有错误
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}

	switch stream.Transport(c.Stream.Transport) {
	case stream.TransportSSE, stream.TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("stream.transport must be sse or websocket, got %q", c.Stream.Transport))
	}
	if c.Stream.ReconnectDelay < 0 {
		errs = append(errs, errors.New("stream.reconnect_delay must not be negative"))
	}
	for name, raw := range map[string]string{"stream.base_url": c.Stream.BaseURL, "api.base_url": c.API.BaseURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute url", name, raw))
		}
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	lim := c.Validation
	if lim.MinAgents < 1 || lim.MaxAgents < lim.MinAgents {
		errs = append(errs, fmt.Errorf("validation agent bounds [%d, %d] invalid", lim.MinAgents, lim.MaxAgents))
	}
	if lim.MinWorkflowTimeout <= 0 || lim.MaxWorkflowTimeout < lim.MinWorkflowTimeout {
		errs = append(errs, fmt.Errorf("validation workflow timeout bounds [%d, %d] invalid", lim.MinWorkflowTimeout, lim.MaxWorkflowTimeout))
	}
	if lim.MaxTemperature <= 0 {
		errs = append(errs, errors.New("validation.max_temperature must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// ExecutionBaseURL 返回控制接口地址，未配置时沿用事件流地址
func (c *Config) ExecutionBaseURL() string {
	if c.API.BaseURL != "" {
		return c.API.BaseURL
	}
	return c.Stream.BaseURL
}
