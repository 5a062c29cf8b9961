// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 agentgraph HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流模板校验、依赖分析、图文档校验与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - WorkflowHandler：模板校验、依赖分析与持久化图文档校验
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - HealthCheck：可插拔健康检查接口（Redis、执行服务等）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：api.Envelope（success + data + error + timestamp）
  - 请求读取：ReadBody / DecodeJSONBody（1 MB 限制）、ValidateContentType
  - 模板同时接受 JSON 与 YAML 请求体
  - ErrorCode → HTTP 状态码映射由 types.HTTPStatusFor 统一提供
  - 校验失败的模板仍返回 200，结果中携带 errors 与 warnings
*/
package handlers
