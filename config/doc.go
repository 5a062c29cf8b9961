// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 AgentGraph 的配置管理功能。

# 概述

配置按 默认值 → YAML 文件 → 环境变量（AGENTGRAPH_ 前缀）的顺序叠加，
最后由 Config.Validate 汇总校验。

# 核心类型

  - Config: 服务、事件流、执行接口、Redis、校验限制、日志与遥测配置
  - Loader: Builder 模式的加载器
  - Reloader: 配置文件热重载，变更后通知回调
  - FileWatcher: 轮询式文件监听，带防抖

# 主要能力

  - 嵌套结构体按 env 标签递归映射环境变量，例如 AGENTGRAPH_REDIS_ADDR
  - 校验限制与日志级别可热重载，端口、Redis 与遥测变更需要重启
  - 敏感字段在变更记录中脱敏
*/
package config
