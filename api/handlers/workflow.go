package handlers

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/validation"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 工作流校验与分析 Handler
// =============================================================================

// WorkflowHandler 工作流模板校验、依赖分析与图文档校验
type WorkflowHandler struct {
	engine atomic.Pointer[validation.Engine]
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器，engine 为 nil 时使用默认限制
func NewWorkflowHandler(engine *validation.Engine, logger *zap.Logger) *WorkflowHandler {
	if engine == nil {
		engine = validation.New(validation.WithLogger(logger))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WorkflowHandler{logger: logger.With(zap.String("handler", "workflow"))}
	h.engine.Store(engine)
	return h
}

// SetEngine 替换校验引擎（配置热重载时调用），进行中的请求继续使用旧引擎
func (h *WorkflowHandler) SetEngine(engine *validation.Engine) {
	if engine != nil {
		h.engine.Store(engine)
	}
}

// Register 在 mux 上注册全部路由
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows/validate", h.HandleValidate)
	mux.HandleFunc("POST /api/v1/workflows/analyze", h.HandleAnalyze)
	mux.HandleFunc("POST /api/v1/graphs/validate", h.HandleValidateGraph)
}

// decodeTemplate 读取 JSON 或 YAML 模板
func (h *WorkflowHandler) decodeTemplate(w http.ResponseWriter, r *http.Request) (*types.WorkflowTemplate, bool) {
	if !ValidateContentType(w, r, h.logger, "application/json", "application/yaml", "application/x-yaml") {
		return nil, false
	}
	data, ok := ReadBody(w, r, h.logger)
	if !ok {
		return nil, false
	}

	format := workflow.FormatJSON
	if MediaType(r) != "application/json" {
		format = workflow.FormatYAML
	}
	tmpl, err := workflow.DecodeTemplate(data, format)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "invalid workflow template").WithCause(err), h.logger)
		return nil, false
	}
	return tmpl, true
}

// HandleValidate 处理 POST /api/v1/workflows/validate
// @Summary 校验工作流模板
// @Description 运行全部校验规则，错误阻止保存与执行，警告仅提示
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} api.ValidateResponse "校验结果"
// @Failure 400 {object} api.Envelope "请求无效"
// @Router /api/v1/workflows/validate [post]
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result := h.engine.Load().ValidateContext(r.Context(), tmpl)
	WriteSuccess(w, api.ValidateResponse{
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// HandleAnalyze 处理 POST /api/v1/workflows/analyze
// @Summary 依赖分析
// @Description 返回规范图、环检测、拓扑分层、关键路径与可达性
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} api.AnalyzeResponse "分析结果"
// @Router /api/v1/workflows/analyze [post]
func (h *WorkflowHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}

	g, analysis := validation.Analyze(tmpl)
	WriteSuccess(w, api.AnalyzeResponse{
		Graph:    api.NewGraphView(g),
		Analysis: analysis,
	})
}

// HandleValidateGraph 处理 POST /api/v1/graphs/validate
// @Summary 校验持久化图文档
// @Description 先按 JSON Schema 校验形状，再检查结构、环与可达性
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} api.ValidateResponse "校验结果"
// @Router /api/v1/graphs/validate [post]
func (h *WorkflowHandler) HandleValidateGraph(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	data, ok := ReadBody(w, r, h.logger)
	if !ok {
		return
	}

	start := time.Now()
	result := h.engine.Load().ValidateGraphJSON(data)
	WriteSuccess(w, api.ValidateResponse{
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
	})
}
