package hitl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/execution"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// Action 是人工对干预的处理动作.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionSkip    Action = "skip"
	ActionRetry   Action = "retry"
)

// Valid 报告动作是否受支持.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionSkip, ActionRetry:
		return true
	}
	return false
}

// NextAgentStatus 返回响应成功后代理应进入的状态.
func (a Action) NextAgentStatus() execution.AgentStatus {
	if a == ActionApprove || a == ActionRetry {
		return execution.AgentRunning
	}
	return execution.AgentFailed
}

// ParseAction 解析动作字符串.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", types.Errorf(types.ErrInvalidRequest, "unknown intervention action %q", s)
	}
	return a, nil
}

// Intervention 代表一个等待人工处理的干预.
type Intervention struct {
	ExecutionID      string         `json:"execution_id"`
	InterventionID   string         `json:"intervention_id"`
	AgentID          string         `json:"agent_id"`
	InterventionType string         `json:"intervention_type"`
	TimeoutAt        time.Time      `json:"timeout_at"`
	Context          map[string]any `json:"context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Expired 报告干预在 now 时是否已超时. 没有超时时间的干预永不过期.
func (in *Intervention) Expired(now time.Time) bool {
	return !in.TimeoutAt.IsZero() && now.After(in.TimeoutAt)
}

// Response 是发送给干预响应 API 的请求体.
type Response struct {
	InterventionID string `json:"intervention_id"`
	Action         Action `json:"action"`
	HumanFeedback  string `json:"human_feedback,omitempty"`
}

// Responder 把响应提交给服务端.
type Responder interface {
	Respond(ctx context.Context, executionID string, resp Response) error
}

// ResponderFunc 将函数适配为 Responder.
type ResponderFunc func(ctx context.Context, executionID string, resp Response) error

func (f ResponderFunc) Respond(ctx context.Context, executionID string, resp Response) error {
	return f(ctx, executionID, resp)
}

// Handler 在新的干预出现时被调用.
type Handler func(ctx context.Context, in *Intervention)

// Recorder 接收干预指标.
type Recorder interface {
	RecordIntervention(action, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordIntervention(string, string) {}

// Coordinator 管理一个执行的待处理干预.
//
// 它监听 Tracker 的干预转换来登记新的干预，并在响应 API 成功后
// 移除条目、推进代理状态。
type Coordinator struct {
	tracker   *execution.Tracker
	store     Store
	responder Responder
	logger    *zap.Logger
	recorder  Recorder
	timeout   time.Duration

	respondMu sync.Mutex

	mu       sync.Mutex
	handlers []Handler
}

// CoordinatorOption 配置 Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger 设置日志.
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder 设置指标记录器.
func WithRecorder(r Recorder) CoordinatorOption {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithStoreTimeout 限制监听回调中单次存储操作的时长.
func WithStoreTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCoordinator 创建协调器并注册到 tracker. store 为 nil 时使用内存存储.
func NewCoordinator(tracker *execution.Tracker, store Store, responder Responder, opts ...CoordinatorOption) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Coordinator{
		tracker:   tracker,
		store:     store,
		responder: responder,
		logger:    zap.NewNop(),
		recorder:  nopRecorder{},
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		zap.String("component", "intervention_coordinator"),
		zap.String("execution_id", tracker.ID()),
	)
	tracker.OnTransition(c.observe)
	return c
}

// OnRequired 注册新干预的处理器. 处理器在独立 goroutine 中执行.
func (c *Coordinator) OnRequired(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Coordinator) observe(executionID string, tr execution.Transition) {
	if tr.Kind != execution.TransitionIntervention {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if tr.Intervention == nil {
		// 已解决的干预
		if err := c.store.Delete(ctx, executionID, tr.InterventionID); err != nil {
			c.logger.Warn("failed to drop resolved intervention",
				zap.String("intervention_id", tr.InterventionID), zap.Error(err))
		}
		return
	}

	pi := tr.Intervention
	in := &Intervention{
		ExecutionID:      executionID,
		InterventionID:   pi.InterventionID,
		AgentID:          pi.AgentID,
		InterventionType: pi.InterventionType,
		TimeoutAt:        pi.TimeoutAt,
		Context:          pi.Context,
		CreatedAt:        pi.CreatedAt,
	}
	if err := c.store.Save(ctx, in); err != nil {
		c.logger.Error("failed to save intervention",
			zap.String("intervention_id", in.InterventionID), zap.Error(err))
		return
	}

	c.logger.Info("intervention required",
		zap.String("intervention_id", in.InterventionID),
		zap.String("agent_id", in.AgentID),
		zap.String("type", in.InterventionType),
	)
	c.notifyHandlers(in)
}

func (c *Coordinator) notifyHandlers(in *Intervention) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		cp := *in
		go h(context.Background(), &cp)
	}
}

// Respond 提交对干预的响应.
//
// 执行已结束时返回 EXECUTION_TERMINAL 并保留条目；未知 ID 不做任何事。
// 只有响应 API 成功后才移除条目并推进代理状态。
func (c *Coordinator) Respond(ctx context.Context, interventionID string, action Action, feedback string) error {
	if !action.Valid() {
		return types.Errorf(types.ErrInvalidRequest, "unknown intervention action %q", action)
	}
	if status := c.tracker.Status(); status.Terminal() {
		c.recorder.RecordIntervention(string(action), "terminal")
		return types.Errorf(types.ErrExecutionTerminal, "execution %s is %s", c.tracker.ID(), status)
	}

	c.respondMu.Lock()
	defer c.respondMu.Unlock()

	in, err := c.store.Load(ctx, c.tracker.ID(), interventionID)
	if err != nil {
		if types.IsErrorCode(err, types.ErrNotFound) {
			c.logger.Debug("ignoring response for unknown intervention", zap.String("intervention_id", interventionID))
			c.recorder.RecordIntervention(string(action), "unknown")
			return nil
		}
		return err
	}

	resp := Response{InterventionID: in.InterventionID, Action: action, HumanFeedback: feedback}
	if c.responder != nil {
		if err := c.responder.Respond(ctx, c.tracker.ID(), resp); err != nil {
			c.recorder.RecordIntervention(string(action), "error")
			c.logger.Warn("intervention response rejected",
				zap.String("intervention_id", interventionID), zap.Error(err))
			return fmt.Errorf("respond to intervention %s: %w", interventionID, err)
		}
	}

	if err := c.store.Delete(ctx, in.ExecutionID, in.InterventionID); err != nil {
		return err
	}
	if err := c.tracker.ResolveIntervention(in.InterventionID, action.NextAgentStatus()); err != nil {
		return err
	}

	c.recorder.RecordIntervention(string(action), "applied")
	c.logger.Info("intervention resolved",
		zap.String("intervention_id", interventionID),
		zap.String("agent_id", in.AgentID),
		zap.String("action", string(action)),
	)
	return nil
}

// Pending 返回待处理干预，按创建时间再按 ID 排序.
func (c *Coordinator) Pending(ctx context.Context) ([]*Intervention, error) {
	return c.store.List(ctx, c.tracker.ID())
}

// Expired 返回在 now 时已超过 timeout_at 的待处理干预. 超时的处理策略由调用方决定.
func (c *Coordinator) Expired(ctx context.Context, now time.Time) ([]*Intervention, error) {
	pending, err := c.Pending(ctx)
	if err != nil {
		return nil, err
	}
	var expired []*Intervention
	for _, in := range pending {
		if in.Expired(now) {
			expired = append(expired, in)
		}
	}
	return expired, nil
}
