// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentGraph 命令行程序入口。

# 概述

cmd/agentgraph 同时是校验 API 服务与执行观察客户端：serve 提供模板
校验与依赖分析接口，watch 订阅远端执行事件流并在本地维护执行状态，
respond 提交人工干预决策。

# 核心类型

  - Server：校验 API 服务，管理 API、Metrics 双端口、配置热重载与优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - watcher：单个执行的事件消费、状态持久化与干预提示

# 主要能力

  - 子命令：serve、validate、analyze、watch、respond、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、Metrics、RateLimiter（基于 IP）、JWTAuth（HS256）
  - 配置热重载：校验限制与日志级别即时生效
  - watch 支持 SSE 与 WebSocket 两种传输，Redis 启用时快照跨进程保留
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
