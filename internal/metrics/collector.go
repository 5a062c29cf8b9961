// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/BaSui01/agentgraph/execution"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 validation.Recorder、stream.Recorder 与 hitl.Recorder
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 校验指标
	validationsTotal   *prometheus.CounterVec
	validationIssues   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec

	// 事件流指标
	streamEventsTotal  *prometheus.CounterVec
	streamEventDropped *prometheus.CounterVec
	streamReconnects   prometheus.Counter
	streamsActive      prometheus.Gauge

	// 执行状态指标
	agentStateTransitions *prometheus.CounterVec
	executionsFinished    *prometheus.CounterVec
	interventionsPending  prometheus.Gauge
	interventionResponses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 校验指标
	c.validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_validations_total",
			Help:      "Total number of workflow template validations",
		},
		[]string{"mode", "result"},
	)

	c.validationIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_validation_issues_total",
			Help:      "Total number of validation issues by severity",
		},
		[]string{"severity"},
	)

	c.validationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_validation_duration_seconds",
			Help:      "Workflow validation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"mode"},
	)

	// 事件流指标
	c.streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total number of execution events applied",
		},
		[]string{"event_type"},
	)

	c.streamEventDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_dropped_total",
			Help:      "Total number of execution events dropped",
		},
		[]string{"reason"},
	)

	c.streamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Total number of stream reconnect attempts",
		},
	)

	c.streamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of open execution streams",
		},
	)

	// 执行状态指标
	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.executionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Total number of executions reaching a terminal status",
		},
		[]string{"status"},
	)

	c.interventionsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interventions_pending",
			Help:      "Number of interventions awaiting a human response",
		},
	)

	c.interventionResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intervention_responses_total",
			Help:      "Total number of intervention responses by outcome",
		},
		[]string{"action", "outcome"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// ✅ 校验指标记录
// =============================================================================

// RecordValidation 记录一次模板校验
func (c *Collector) RecordValidation(mode string, valid bool, errors, warnings int, duration time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.validationsTotal.WithLabelValues(mode, result).Inc()
	c.validationIssues.WithLabelValues("error").Add(float64(errors))
	c.validationIssues.WithLabelValues("warning").Add(float64(warnings))
	c.validationDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// =============================================================================
// 📡 事件流指标记录
// =============================================================================

// RecordStreamEvent 记录已应用的事件
func (c *Collector) RecordStreamEvent(eventType string) {
	c.streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordStreamDropped 记录被丢弃的事件
func (c *Collector) RecordStreamDropped(reason string) {
	c.streamEventDropped.WithLabelValues(reason).Inc()
}

// RecordReconnect 记录一次重连
func (c *Collector) RecordReconnect() { c.streamReconnects.Inc() }

// StreamOpened 活跃流加一
func (c *Collector) StreamOpened() { c.streamsActive.Inc() }

// StreamClosed 活跃流减一
func (c *Collector) StreamClosed() { c.streamsActive.Dec() }

// =============================================================================
// 🎭 执行状态指标记录
// =============================================================================

// RecordAgentStateTransition 记录 Agent 状态转换
func (c *Collector) RecordAgentStateTransition(fromState, toState string) {
	c.agentStateTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordIntervention 记录干预响应结果
func (c *Collector) RecordIntervention(action, outcome string) {
	c.interventionResponses.WithLabelValues(action, outcome).Inc()
}

// ObserveTransition 是 execution.TransitionListener，按转换类型记录指标
func (c *Collector) ObserveTransition(_ string, tr execution.Transition) {
	switch tr.Kind {
	case execution.TransitionAgent:
		c.RecordAgentStateTransition(tr.From, tr.To)
	case execution.TransitionWorkflow:
		if execution.WorkflowStatus(tr.To).Terminal() {
			c.executionsFinished.WithLabelValues(tr.To).Inc()
		}
	case execution.TransitionIntervention:
		if tr.To == "pending" {
			c.interventionsPending.Inc()
		} else if tr.From == "pending" {
			c.interventionsPending.Dec()
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类为 2xx/3xx/4xx/5xx
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
