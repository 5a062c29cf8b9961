// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentGraph 测试的共享工具和辅助函数。

# 概述

testutil 包为命令行与 HTTP 层测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。包内各自的 fake 实现
（事件源、调度器、响应器）留在使用它们的测试文件中，以免引入导入环。

# 核心能力

  - TestContext: 随测试结束取消的上下文
  - WaitForChannel: 带超时的通道接收
  - WriteFile: 在临时目录写入模板或配置文件

# 子包

  - testutil/fixtures: 模板样例（顺序、菱形依赖、含环）、
    执行事件编码与 SSE 测试服务端

# 使用示例

	path := testutil.WriteFile(t, "workflow.yaml", fixtures.SequentialYAML)
	srv := httptest.NewServer(fixtures.SSEHandler("secret", fixtures.CompletedRun(t, "researcher", 0.1, 42)))
*/
package testutil
