// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package hitl 提供 Human-in-the-Loop 干预协调能力。

# 概述

工作流执行过程中，服务端可以通过 intervention_required 事件暂停某个代理，
等待人工审批、补充输入或决定跳过。本包在本地登记这些待处理干预，
把人工响应提交给干预响应 API，并在成功后推进执行追踪器中的代理状态。

# 核心类型

  - Coordinator：单个执行的干预协调器，监听 execution.Tracker 的干预转换
  - Intervention：待处理干预，含超时时间与上下文
  - Action：approve / reject / skip / retry 四种处理动作
  - Store：干预存储接口，提供 MemoryStore 与基于 Redis 哈希的 RedisStore
  - Responder：响应提交接口，通常由 api/client.InterventionClient 实现

# 主要能力

  - 执行已结束时拒绝响应并返回 EXECUTION_TERMINAL，条目保留
  - 未知干预 ID 的响应为空操作
  - 仅在响应 API 成功后移除条目：approve/retry 使代理回到 running，
    reject/skip 使代理进入 failed
  - Pending 按创建时间和 ID 排序；Expired 列出已超时条目，超时策略由调用方决定
*/
package hitl
