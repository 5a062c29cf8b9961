// Package fixtures 提供工作流模板与执行事件的测试样例
package fixtures

import (
	"strings"

	"github.com/BaSui01/agentgraph/types"
)

// Agent 创建一个字段齐全的 Agent
func Agent(id string, timeoutSeconds int, dependsOn ...string) types.Agent {
	return types.Agent{
		ID:             id,
		Name:           strings.ToUpper(id[:1]) + id[1:],
		SystemPrompt:   "You are the " + id + " agent.",
		Temperature:    0.7,
		MaxTokens:      2000,
		TimeoutSeconds: timeoutSeconds,
		DependsOn:      dependsOn,
	}
}

// Template 创建指定模式的模板
func Template(mode types.WorkflowMode, agents ...types.Agent) *types.WorkflowTemplate {
	return &types.WorkflowTemplate{
		Name:        "research-pipeline",
		Description: "Research, write and review a report",
		Agents:      agents,
		Workflow: types.WorkflowConfig{
			Mode:               mode,
			CompletionStrategy: types.CompletionAll,
			TimeoutSeconds:     1800,
		},
	}
}

// SequentialTemplate researcher → writer → reviewer
func SequentialTemplate() *types.WorkflowTemplate {
	return Template(types.ModeSequential,
		Agent("researcher", 300),
		Agent("writer", 600),
		Agent("reviewer", 300),
	)
}

// ConditionalTemplate 菱形依赖：researcher 分叉到 writer 与 analyst，再汇合到 reviewer
func ConditionalTemplate() *types.WorkflowTemplate {
	return Template(types.ModeConditional,
		Agent("researcher", 300),
		Agent("writer", 600, "researcher"),
		Agent("analyst", 120, "researcher"),
		Agent("reviewer", 300, "writer", "analyst"),
	)
}

// CyclicTemplate a → b → a
func CyclicTemplate() *types.WorkflowTemplate {
	return Template(types.ModeConditional,
		Agent("a", 300, "b"),
		Agent("b", 300, "a"),
	)
}

// SequentialYAML 与 SequentialTemplate 等价的 YAML 文档
const SequentialYAML = `name: research-pipeline
description: Research, write and review a report
agents:
  - id: researcher
    name: Researcher
    system_prompt: You are the researcher agent.
    temperature: 0.7
    max_tokens: 2000
    timeout_seconds: 300
  - id: writer
    name: Writer
    system_prompt: You are the writer agent.
    temperature: 0.7
    max_tokens: 2000
    timeout_seconds: 600
  - id: reviewer
    name: Reviewer
    system_prompt: You are the reviewer agent.
    temperature: 0.7
    max_tokens: 2000
    timeout_seconds: 300
workflow:
  mode: sequential
  completion_strategy: all
  timeout_seconds: 1800
`

// CyclicJSON 含环的条件模式模板
const CyclicJSON = `{
  "name": "loop",
  "description": "two agents waiting on each other",
  "agents": [
    {"id": "a", "name": "A", "system_prompt": "You are a.", "temperature": 0.5, "timeout_seconds": 300, "depends_on": ["b"]},
    {"id": "b", "name": "B", "system_prompt": "You are b.", "temperature": 0.5, "timeout_seconds": 300, "depends_on": ["a"]}
  ],
  "workflow": {"mode": "conditional", "completion_strategy": "all", "timeout_seconds": 1800}
}`
