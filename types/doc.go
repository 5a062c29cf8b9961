// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentgraph 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、execution、
agent/hitl、api 等上层模块提供统一的数据契约：工作流模板、Agent、
边、持久化图结构与结构化错误码。

# 核心类型

  - WorkflowTemplate：模板（名称、描述、Agent 列表、工作流配置）
  - Agent：单个 Agent（依赖、超时、温度、HITL 配置）
  - WorkflowConfig：编排方式（sequential / parallel / conditional）与完成策略
  - Edge：图中的边（from_node / to_node / condition_type）
  - GraphStructure：持久化图 JSON 结构（nodes / edges / entry_point / exit_points）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 虚拟节点：NodeStart / NodeEnd 与 IsVirtualNode
  - 临时 ID：NewTemporaryAgentID 为未保存的 Agent 分配 ID
  - 错误工具链：AsError / IsErrorCode / GetErrorCode / HTTPStatusFor
*/
package types
