package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/validation"
)

// =============================================================================
// 执行控制类型
// =============================================================================

// StartExecutionRequest 启动一次工作流执行。
// 模板 ID 与内联模板二选一。
type StartExecutionRequest struct {
	// 已保存模板的 ID
	TemplateID string `json:"template_id,omitempty" example:"tpl-123"`
	// 内联模板
	Template *types.WorkflowTemplate `json:"template,omitempty"`
	// 执行输入
	Input map[string]any `json:"input,omitempty"`
}

// StartExecutionResponse 是启动执行的响应。
type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id" example:"exec-42"`
	Status      string `json:"status,omitempty" example:"pending"`
}

// =============================================================================
// 校验与分析类型
// =============================================================================

// ValidateResponse 是模板校验的响应。
type ValidateResponse struct {
	*validation.Result
	// 校验耗时（毫秒）
	DurationMs int64 `json:"duration_ms"`
}

// GraphView 是规范图的可序列化视图。
type GraphView struct {
	Mode       types.WorkflowMode `json:"mode"`
	Nodes      []string           `json:"nodes"`
	Edges      []types.Edge       `json:"edges"`
	EntryPoint string             `json:"entry_point,omitempty"`
}

// NewGraphView 从图构建视图。
func NewGraphView(g *workflow.Graph) GraphView {
	v := GraphView{Mode: g.Mode, Nodes: g.Nodes, Edges: g.Edges, EntryPoint: g.EntryPoint}
	if v.Nodes == nil {
		v.Nodes = []string{}
	}
	if v.Edges == nil {
		v.Edges = []types.Edge{}
	}
	return v
}

// AnalyzeResponse 是依赖分析的响应。
type AnalyzeResponse struct {
	Graph    GraphView         `json:"graph"`
	Analysis workflow.Analysis `json:"analysis"`
}

// =============================================================================
// 通用响应信封
// =============================================================================

// Envelope 是 HTTP 接口统一的响应包装。
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorBody 是信封中的错误信息。
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
