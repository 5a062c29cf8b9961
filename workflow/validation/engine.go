package validation

import (
	"context"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Severity classifies an issue. Only errors block save/execute.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
}

// Result is the outcome of one validation run. Issues keeps rule order;
// Errors and Warnings are the same issues split by severity.
type Result struct {
	Valid    bool    `json:"is_valid"`
	Issues   []Issue `json:"issues"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// HasField reports whether any issue with the given severity targets field.
func (r *Result) HasField(field string, severity Severity) bool {
	for _, is := range r.Issues {
		if is.Field == field && is.Severity == severity {
			return true
		}
	}
	return false
}

func newResult(issues []Issue) *Result {
	r := &Result{Issues: issues, Errors: []Issue{}, Warnings: []Issue{}}
	if r.Issues == nil {
		r.Issues = []Issue{}
	}
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			r.Errors = append(r.Errors, is)
		} else {
			r.Warnings = append(r.Warnings, is)
		}
	}
	r.Valid = len(r.Errors) == 0
	return r
}

// Limits are the product bounds enforced by the structural and timeout rules.
type Limits struct {
	MinAgents          int     `yaml:"min_agents" env:"MIN_AGENTS"`
	MaxAgents          int     `yaml:"max_agents" env:"MAX_AGENTS"`
	MinWorkflowTimeout int     `yaml:"min_workflow_timeout" env:"MIN_WORKFLOW_TIMEOUT"`
	MaxWorkflowTimeout int     `yaml:"max_workflow_timeout" env:"MAX_WORKFLOW_TIMEOUT"`
	MinAgentTimeout    int     `yaml:"min_agent_timeout" env:"MIN_AGENT_TIMEOUT"`
	MaxTemperature     float64 `yaml:"max_temperature" env:"MAX_TEMPERATURE"`
	MaxTokens          int     `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// DefaultLimits returns the standard product limits.
func DefaultLimits() Limits {
	return Limits{
		MinAgents:          1,
		MaxAgents:          5,
		MinWorkflowTimeout: 60,
		MaxWorkflowTimeout: 7200,
		MinAgentTimeout:    30,
		MaxTemperature:     2,
		MaxTokens:          32000,
	}
}

// Recorder receives one observation per validation run.
type Recorder interface {
	RecordValidation(mode string, valid bool, errors, warnings int, duration time.Duration)
}

// Engine runs the ordered rule groups. It holds no per-run state and is safe
// for concurrent use.
type Engine struct {
	limits   Limits
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits overrides the default limits.
func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithLogger sets the logger used for run summaries.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.With(zap.String("component", "validation_engine"))
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracer sets the tracer used for validation spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		limits: DefaultLimits(),
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/BaSui01/agentgraph/workflow/validation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the limits in effect.
func (e *Engine) Limits() Limits { return e.limits }

// Validate checks a template. It never mutates the template and always
// returns a result.
func (e *Engine) Validate(tmpl *types.WorkflowTemplate) *Result {
	return e.ValidateContext(context.Background(), tmpl)
}

// ValidateContext is Validate with a parent context for tracing.
func (e *Engine) ValidateContext(ctx context.Context, tmpl *types.WorkflowTemplate) *Result {
	_, span := e.tracer.Start(ctx, "validation.Engine.Validate")
	defer span.End()
	start := time.Now()

	var result *Result
	mode := ""
	if tmpl == nil {
		result = newResult([]Issue{{
			Field:    "template",
			Message:  "Template is required",
			Severity: SeverityError,
			Rule:     ruleStructural,
		}})
	} else {
		mode = string(effectiveMode(tmpl.Workflow.Mode))
		rc := newRuleContext(tmpl, e.limits)
		for _, r := range rules {
			rc.rule = r.name
			r.check(rc)
		}
		result = newResult(rc.issues)
	}

	span.SetAttributes(
		attribute.Bool("validation.valid", result.Valid),
		attribute.Int("validation.errors", len(result.Errors)),
		attribute.Int("validation.warnings", len(result.Warnings)),
	)
	if e.recorder != nil {
		e.recorder.RecordValidation(mode, result.Valid, len(result.Errors), len(result.Warnings), time.Since(start))
	}
	e.logger.Debug("validation completed",
		zap.String("mode", mode),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result
}

// Analyze builds the graph of a template and runs every structural analysis.
func Analyze(tmpl *types.WorkflowTemplate) (*workflow.Graph, workflow.Analysis) {
	g := workflow.BuildGraph(tmpl.Agents, withEffectiveMode(tmpl.Workflow))
	return g, workflow.Analyze(g)
}

var defaultEngine = New()

// Validate checks a template with the default limits.
func Validate(tmpl *types.WorkflowTemplate) *Result {
	return defaultEngine.Validate(tmpl)
}

func effectiveMode(m types.WorkflowMode) types.WorkflowMode {
	if m == "" {
		return types.ModeSequential
	}
	return m
}

func withEffectiveMode(cfg types.WorkflowConfig) types.WorkflowConfig {
	cfg.Mode = effectiveMode(cfg.Mode)
	return cfg
}
