package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/server"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/workflow/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AgentGraph 的校验 API 服务
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	collector *metrics.Collector
	providers *telemetry.Providers
	cache     *cache.Manager

	health    *handlers.HealthHandler
	workflows *handlers.WorkflowHandler
	reloader  *config.Reloader
}

// NewServer 创建服务实例，collector 与 providers 由调用方持有
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel,
	collector *metrics.Collector, providers *telemetry.Providers) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		collector:  collector,
		providers:  providers,
	}
	s.health = handlers.NewHealthHandler(logger)
	s.workflows = handlers.NewWorkflowHandler(s.newEngine(cfg.Validation), logger)
	return s
}

// newEngine 按当前限制创建校验引擎
func (s *Server) newEngine(limits validation.Limits) *validation.Engine {
	return validation.New(
		validation.WithLimits(limits),
		validation.WithLogger(s.logger),
		validation.WithRecorder(s.collector),
		validation.WithTracer(s.providers.Tracer("agentgraph/validation")),
	)
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHealthChecks 注册 Redis 与执行服务的就绪检查
func (s *Server) initHealthChecks() error {
	if s.cfg.Redis.Enabled {
		mgr, err := cache.NewManager(s.cfg.Redis.Config, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.cache = mgr
		s.health.RegisterCheck(handlers.NewRedisHealthCheck(mgr.Ping))
	}

	if base := strings.TrimRight(s.cfg.ExecutionBaseURL(), "/"); base != "" {
		client := tlsutil.SecureHTTPClient(5 * time.Second)
		s.health.RegisterCheck(handlers.NewExecutionServiceCheck(func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("execution service returned %d", resp.StatusCode)
			}
			return nil
		}))
	}
	return nil
}

// initReloader 配置文件变更时替换校验引擎并调整日志级别
func (s *Server) initReloader() {
	if s.configPath == "" {
		return
	}
	loader := config.NewLoader().WithConfigPath(s.configPath)
	s.reloader = config.NewReloader(loader, s.cfg, s.logger)
	s.reloader.OnReload(func(_, next *config.Config) {
		s.workflows.SetEngine(s.newEngine(next.Validation))
		s.level.SetLevel(parseLevel(next.Log.Level))
		s.logger.Info("configuration reloaded",
			zap.Int("max_agents", next.Validation.MaxAgents),
			zap.String("log_level", next.Log.Level),
		)
	})
}

// =============================================================================
// 🌐 HTTP 路由
// =============================================================================

// Handler 构建带中间件链的 API 处理器，ctx 控制限流器清理 goroutine 的生命周期
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux, Version, BuildTime, GitCommit)
	s.workflows.Register(mux)
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Server.JWTSecret != "" {
		skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	}
	return Chain(mux, middlewares...)
}

// =============================================================================
// 🚀 运行
// =============================================================================

// Run 启动 API、Metrics 服务与配置监听，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.initHealthChecks(); err != nil {
		return err
	}
	defer func() {
		if s.cache != nil {
			_ = s.cache.Close()
		}
	}()
	s.initReloader()

	g, gctx := errgroup.WithContext(ctx)

	apiServer := server.NewManager(s.Handler(gctx), server.ConfigFrom("api", s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	g.Go(func() error { return apiServer.Run(gctx) })

	if s.cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		ms := server.NewManager(mux, server.ConfigFrom("metrics", s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
		g.Go(func() error { return ms.Run(gctx) })
	}

	if s.reloader != nil {
		g.Go(func() error { return s.reloader.Watch(gctx, config.WithWatcherLogger(s.logger)) })
	}

	s.logger.Info("AgentGraph server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
		zap.Bool("auth_enabled", s.cfg.Server.JWTSecret != ""),
	)

	err := g.Wait()
	s.logger.Info("Graceful shutdown completed")
	return err
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string, stderr io.Writer) int {
	fs, configPath := newFlagSet("serve", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return exitUsage
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentGraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}()

	srv := NewServer(cfg, *configPath, logger, level, sharedCollector(logger), providers)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return exitFailure
	}

	logger.Info("AgentGraph stopped")
	return exitOK
}
