package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 存活与就绪探针
// =============================================================================

// defaultCheckTimeout 单个依赖检查的超时
const defaultCheckTimeout = 2 * time.Second

// HealthHandler 存活/就绪探针处理器。就绪检查覆盖服务依赖的外部组件
// （快照 Redis、执行服务），任一失败即返回 503。
type HealthHandler struct {
	logger       *zap.Logger
	started      time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthCheck 依赖检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 探针响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个依赖检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建探针处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:       logger.With(zap.String("handler", "health")),
		started:      time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

// WithCheckTimeout 覆盖单个检查的超时，非正值忽略
func (h *HealthHandler) WithCheckTimeout(d time.Duration) *HealthHandler {
	if d > 0 {
		h.checkTimeout = d
	}
	return h
}

// Register 在 mux 上注册探针与版本路由
func (h *HealthHandler) Register(mux *http.ServeMux, version, buildTime, gitCommit string) {
	mux.HandleFunc("GET /health", h.HandleLive)
	mux.HandleFunc("GET /healthz", h.HandleLive)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /version", h.HandleVersion(version, buildTime, gitCommit))
}

// RegisterCheck 注册依赖检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleLive 存活探针，只说明进程在响应请求
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleReady 就绪探针，并发执行所有依赖检查
// @Summary 就绪探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "依赖全部可用"
// @Failure 503 {object} HealthStatus "存在不可用依赖"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.runCheck(r.Context(), check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) runCheck(parent context.Context, check HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(parent, h.checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	if err != nil {
		h.logger.Warn("readiness check failed",
			zap.String("check", check.Name()),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return CheckResult{Status: "fail", Message: err.Error(), Latency: latency.String()}
	}
	return CheckResult{Status: "pass", Latency: latency.String()}
}

// HandleVersion 返回构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 依赖检查
// =============================================================================

// CheckFunc 将 ping 函数适配为 HealthCheck
type CheckFunc struct {
	name string
	ping func(ctx context.Context) error
}

// NewCheck 创建命名检查
func NewCheck(name string, ping func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, ping: ping}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.ping(ctx) }

// NewRedisHealthCheck 快照存储检查，通常传入 cache.Manager.Ping
func NewRedisHealthCheck(ping func(ctx context.Context) error) *CheckFunc {
	return NewCheck("redis", ping)
}

// NewExecutionServiceCheck 执行服务可达性检查
func NewExecutionServiceCheck(ping func(ctx context.Context) error) *CheckFunc {
	return NewCheck("execution_service", ping)
}
