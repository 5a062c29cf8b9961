// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供工作流模板的规范图模型与依赖分析。

# 概述

workflow 把模板中的 Agent 列表按编排方式（sequential / parallel /
conditional）展开为带 start、end 虚拟节点的规范图，并在图上进行
环检测、拓扑分层、关键路径与可达性分析。分析结果供校验引擎、
HTTP 接口与命令行共享。

# 核心类型

  - Graph：规范图：节点顺序、边、邻接表与超时
  - Analysis：环检测、分层、关键路径与可达性的汇总结果
  - CycleReport：首个回边所在递归栈上的完整环
  - Leveling：Kahn 分层，存在环时标记为不完整
  - CriticalPath：按节点超时加权的最长路径
  - Format：模板文件格式（json / yaml）

# 主要能力

  - BuildGraph：确定性构图，边 ID 只与端点和条件有关
  - Analyze：存在环时跳过分层与关键路径
  - CheckGraphSchema：持久化图文档的 JSON Schema 形状校验
  - DecodeTemplate / LoadTemplateFile：JSON 与 YAML 模板读写
  - 子包 expr：自定义条件边表达式的语法检查与引用分析
  - 子包 validation：模板校验引擎
*/
package workflow
