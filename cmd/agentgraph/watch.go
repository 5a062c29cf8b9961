package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/agent/hitl"
	"github.com/BaSui01/agentgraph/api/client"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/execution"
	"github.com/BaSui01/agentgraph/execution/stream"
	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/server"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🔌 执行服务连接
// =============================================================================

// connection 汇总 watch/respond 共享的客户端依赖
type connection struct {
	cfg       *config.Config
	logger    *zap.Logger
	tokens    stream.TokenProvider
	tlsConfig *tls.Config
	client    *client.Client
}

func newConnection(cfg *config.Config, logger *zap.Logger) (*connection, error) {
	conn := &connection{
		cfg:    cfg,
		logger: logger,
		tokens: stream.EnvToken(cfg.Stream.TokenEnv),
	}

	opts := []client.Option{client.WithLogger(logger)}
	if cfg.Stream.CAFile != "" {
		tlsCfg, err := tlsutil.ClientTLSConfig(cfg.Stream.CAFile)
		if err != nil {
			return nil, err
		}
		conn.tlsConfig = tlsCfg
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Timeout:   cfg.API.Timeout,
			Transport: tlsutil.SecureTransport(tlsCfg),
		}))
	}

	c, err := client.New(client.Config{
		BaseURL:   cfg.ExecutionBaseURL(),
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		UserAgent: "agentgraph/" + Version,
	}, conn.tokens, opts...)
	if err != nil {
		return nil, err
	}
	conn.client = c
	return conn, nil
}

// source 按配置的传输方式创建事件源
func (c *connection) source(transport stream.Transport) stream.Source {
	hc := tlsutil.StreamingHTTPClient(c.tlsConfig, c.cfg.API.Timeout)
	if transport == stream.TransportWebSocket {
		return stream.NewWebSocketSource(c.cfg.Stream.BaseURL, hc, c.logger)
	}
	return stream.NewSSESource(c.cfg.Stream.BaseURL, hc, c.logger)
}

// stores 在启用 Redis 时返回持久化存储，否则返回内存存储
func stores(cfg *config.Config, logger *zap.Logger) (execution.SnapshotStore, hitl.Store, func(), error) {
	if !cfg.Redis.Enabled {
		return execution.NewMemorySnapshotStore(), hitl.NewMemoryStore(), func() {}, nil
	}
	mgr, err := cache.NewManager(cfg.Redis.Config, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	closeFn := func() { _ = mgr.Close() }
	return execution.NewRedisSnapshotStore(mgr, cfg.Redis.SnapshotTTL),
		hitl.NewRedisStore(mgr, cfg.Redis.InterventionTTL),
		closeFn, nil
}

// =============================================================================
// 🖨️ 输出
// =============================================================================

// printer 串行化多个执行的输出
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (p *printer) transition(executionID string, tr execution.Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		_ = json.NewEncoder(p.w).Encode(struct {
			ExecutionID string `json:"execution_id"`
			execution.Transition
		}{executionID, tr})
		return
	}
	switch tr.Kind {
	case execution.TransitionAgent:
		fmt.Fprintf(p.w, "[%s] agent %s: %s -> %s\n", executionID, tr.AgentID, tr.From, tr.To)
	case execution.TransitionIntervention:
		fmt.Fprintf(p.w, "[%s] intervention %s: %s -> %s\n", executionID, tr.InterventionID, displayState(tr.From), tr.To)
	default:
		fmt.Fprintf(p.w, "[%s] workflow: %s -> %s\n", executionID, tr.From, tr.To)
	}
}

func (p *printer) intervention(in *hitl.Intervention) {
	if p.json {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] agent %s needs %s review", in.ExecutionID, in.AgentID, in.InterventionType)
	if !in.TimeoutAt.IsZero() {
		fmt.Fprintf(p.w, " before %s", in.TimeoutAt.Format(time.RFC3339))
	}
	fmt.Fprintf(p.w, "\n  agentgraph respond %s %s <approve|reject|skip|retry>\n", in.ExecutionID, in.InterventionID)
}

func (p *printer) summary(s *execution.State, err error) {
	if p.json {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s: cost=%.4f tokens=%d", s.ExecutionID, s.Status, s.TotalCost, s.TotalTokens)
	if s.DurationMs > 0 {
		fmt.Fprintf(p.w, " duration=%s", time.Duration(s.DurationMs)*time.Millisecond)
	}
	if s.Error != "" {
		fmt.Fprintf(p.w, " error=%q", s.Error)
	}
	if err != nil {
		fmt.Fprintf(p.w, " stream_error=%q", err.Error())
	}
	fmt.Fprintln(p.w)
}

func displayState(s string) string {
	if s == "" {
		return "new"
	}
	return s
}

// =============================================================================
// 👀 watch 命令
// =============================================================================

// runWatch 跟踪一个或多个执行直到全部进入终止状态
func runWatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("watch", stderr)
	transport := fs.String("transport", "", "Override stream transport: sse or websocket")
	jsonOut := fs.Bool("json", false, "Print transitions as JSON lines")
	serveMetrics := fs.Bool("metrics", false, "Expose /metrics on the configured metrics port")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: agentgraph watch [--transport sse|websocket] [--json] [--metrics] <execution-id>...")
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return exitUsage
	}
	if *transport != "" {
		cfg.Stream.Transport = *transport
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Invalid transport: %v\n", err)
			return exitUsage
		}
	}

	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	conn, err := newConnection(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure execution client: %v\n", err)
		return exitUsage
	}
	snapshots, interventions, closeStores, err := stores(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailure
	}
	defer closeStores()

	w := &watcher{
		conn:          conn,
		collector:     sharedCollector(logger),
		providers:     providers,
		snapshots:     snapshots,
		interventions: interventions,
		registry:      stream.NewRegistry(logger),
		out:           &printer{w: stdout, json: *jsonOut},
		logger:        logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	if *serveMetrics && cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		ms := server.NewManager(mux, server.ConfigFrom("metrics", cfg.Server, cfg.Server.MetricsPort), logger)
		metricsCtx, stopMetrics := context.WithCancel(gctx)
		defer stopMetrics()
		go func() {
			if err := ms.Run(metricsCtx); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var (
		mu     sync.Mutex
		failed bool
	)
	for _, id := range fs.Args() {
		g.Go(func() error {
			state, err := w.follow(gctx, id, stream.Transport(cfg.Stream.Transport))
			if errors.Is(err, context.Canceled) {
				return err
			}
			if state != nil {
				w.out.summary(state, err)
			} else {
				fmt.Fprintf(stderr, "[%s] %v\n", id, err)
			}
			if err != nil || state == nil || state.Status != execution.WorkflowCompleted {
				mu.Lock()
				failed = true
				mu.Unlock()
			}
			return nil
		})
	}

	err = g.Wait()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.registry.StopAll(stopCtx)

	if err != nil || failed {
		return exitFailure
	}
	return exitOK
}

// watcher 为每个执行组装 tracker、干预协调器与事件流消费者
type watcher struct {
	conn          *connection
	collector     *metrics.Collector
	providers     *telemetry.Providers
	snapshots     execution.SnapshotStore
	interventions hitl.Store
	registry      *stream.Registry
	out           *printer
	logger        *zap.Logger
}

// follow 消费一个执行的事件流，返回最终状态
func (w *watcher) follow(ctx context.Context, executionID string, transport stream.Transport) (*execution.State, error) {
	ctx = ctxkeys.WithExecutionID(ctx, executionID)
	logger := w.logger.With(zap.String("execution_id", executionID))

	tracker := execution.NewTracker(executionID,
		execution.WithLogger(logger),
		execution.WithListener(w.collector.ObserveTransition),
		execution.WithListener(w.out.transition),
	)

	// 从上次保存的快照恢复显示
	if snap, err := w.snapshots.Load(ctx, executionID); err == nil {
		if err := tracker.Hydrate(snap); err != nil {
			logger.Warn("ignoring stored snapshot", zap.Error(err))
		}
	} else if !types.IsErrorCode(err, types.ErrNotFound) {
		logger.Warn("failed to load snapshot", zap.Error(err))
	}
	tracker.OnTransition(execution.PersistOnTransition(tracker, w.snapshots, func(err error) {
		logger.Warn("failed to persist snapshot", zap.Error(err))
	}))

	coordinator := hitl.NewCoordinator(tracker, w.interventions, w.conn.client,
		hitl.WithLogger(logger),
		hitl.WithRecorder(w.collector),
	)
	coordinator.OnRequired(func(_ context.Context, in *hitl.Intervention) {
		w.out.intervention(in)
	})

	consumer := stream.NewConsumer(tracker, w.conn.source(transport), w.conn.tokens,
		stream.WithLogger(logger),
		stream.WithRecorder(w.collector),
		stream.WithHydrator(w.conn.client),
		stream.WithTracer(w.providers.Tracer("agentgraph/stream")),
		stream.WithAutoReconnect(w.conn.cfg.Stream.AutoReconnect, w.conn.cfg.Stream.ReconnectDelay),
	)
	if err := w.registry.Start(ctx, consumer); err != nil {
		if tracker.Status().Terminal() {
			return tracker.Snapshot(), nil
		}
		return nil, err
	}

	if err := consumer.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			consumer.Stop()
			return nil, err
		}
		return tracker.Snapshot(), err
	}
	return tracker.Snapshot(), nil
}

// =============================================================================
// 🙋 respond 命令
// =============================================================================

// respondSession 以服务端快照为基础的单次干预会话
type respondSession struct {
	tracker *execution.Tracker
	*hitl.Coordinator
}

// Terminal 报告执行是否已结束
func (r *respondSession) Terminal() bool { return r.tracker.Status().Terminal() }

// Has 报告快照中是否存在该待处理干预
func (r *respondSession) Has(interventionID string) bool {
	_, ok := r.tracker.Snapshot().Interventions[interventionID]
	return ok
}

// coordinator 拉取执行快照并建立干预协调器，响应经协调器提交
func (c *connection) coordinator(ctx context.Context, executionID string) (*respondSession, error) {
	snap, err := c.client.Status(ctx, executionID)
	if err != nil {
		return nil, err
	}
	tracker := execution.NewTracker(executionID, execution.WithLogger(c.logger))
	coord := hitl.NewCoordinator(tracker, nil, c.client, hitl.WithLogger(c.logger))
	if err := tracker.Hydrate(snap); err != nil {
		return nil, err
	}
	return &respondSession{tracker: tracker, Coordinator: coord}, nil
}

// runRespond 向执行服务提交干预响应
func runRespond(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("respond", stderr)
	feedback := fs.String("feedback", "", "Human feedback sent with the response")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(stderr, "usage: agentgraph respond [--feedback text] <execution-id> <intervention-id> <approve|reject|skip|retry>")
		return exitUsage
	}
	executionID, interventionID := fs.Arg(0), fs.Arg(1)
	action, err := hitl.ParseAction(fs.Arg(2))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return exitUsage
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	conn, err := newConnection(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure execution client: %v\n", err)
		return exitUsage
	}

	session, err := conn.coordinator(ctx, executionID)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load execution: %v\n", err)
		return exitFailure
	}
	if !session.Terminal() && !session.Has(interventionID) {
		fmt.Fprintf(stderr, "Intervention %s is not pending on execution %s\n", interventionID, executionID)
		return exitFailure
	}
	if err := session.Respond(ctx, interventionID, action, *feedback); err != nil {
		fmt.Fprintf(stderr, "Failed to respond: %v\n", err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "%s %s: %s\n", executionID, interventionID, action)
	return exitOK
}
