// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package client 提供执行服务的 HTTP 客户端。

# 概述

Client 封装执行控制 API（启动、取消、状态快照）与干预响应 API，
每次请求前解析 Bearer 令牌，并可按配置进行出站限流。

# 核心类型

  - Config：服务地址、超时、限流参数
  - Client：同时实现 stream.Hydrator 与 hitl.Responder

# 主要能力

  - 令牌缺失或已过期时不发起请求，直接返回 AUTHENTICATION
  - HTTP 错误映射为 types.Error，响应信封中的错误码优先
  - 兼容带信封与不带信封的 JSON 响应
*/
package client
