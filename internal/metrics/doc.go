// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、模板校验、事件流、执行状态与人工干预五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时满足 validation.Recorder、
    stream.Recorder 与 hitl.Recorder，并提供 ObserveTransition
    作为执行状态跟踪器的转换监听器。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 校验指标：按 mode/result 计数，按严重级别累计问题数。
  - 事件流指标：已应用与已丢弃事件、重连次数、活跃流数量。
  - 执行指标：Agent 状态转换、终态执行数、待处理干预数、
    干预响应结果。
*/
package metrics
