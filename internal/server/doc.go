// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
上下文驱动的运行与优雅关闭。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。agentgraph serve 用它分别运行 API 服务
与 metrics 服务，由 errgroup 统一监管。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道。
  - Config：服务器配置，可由 ConfigFrom 从 config.ServerConfig 构建。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 阻塞运行：Run 在 ctx 取消或服务异常时返回，并完成优雅关闭。
  - 错误传播：Errors() 返回异步错误通道。
  - 状态查询：IsRunning/Addr 提供运行状态与实际监听地址。
*/
package server
