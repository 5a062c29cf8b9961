package types

import (
	"strings"

	"github.com/google/uuid"
)

// Reserved virtual nodes. They appear only as edge endpoints, never in
// GraphStructure.Nodes.
const (
	NodeStart = "start"
	NodeEnd   = "end"
)

// TemporaryIDPrefix marks agent ids assigned before the template is persisted.
const TemporaryIDPrefix = "tmp-"

// IsVirtualNode reports whether id is one of the reserved virtual nodes.
func IsVirtualNode(id string) bool {
	return id == NodeStart || id == NodeEnd
}

// NewTemporaryAgentID returns a fresh id for an agent that has not been saved yet.
func NewTemporaryAgentID() string {
	return TemporaryIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was produced by NewTemporaryAgentID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

// WorkflowMode selects how agents are wired together.
type WorkflowMode string

const (
	ModeSequential  WorkflowMode = "sequential"
	ModeParallel    WorkflowMode = "parallel"
	ModeConditional WorkflowMode = "conditional"
)

// Valid reports whether m is a known mode.
func (m WorkflowMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeConditional:
		return true
	}
	return false
}

// CompletionStrategy decides when a group of agents counts as done.
type CompletionStrategy string

const (
	CompletionAll          CompletionStrategy = "all"
	CompletionMajority     CompletionStrategy = "majority"
	CompletionAny          CompletionStrategy = "any"
	CompletionThreshold    CompletionStrategy = "threshold"
	CompletionFirstSuccess CompletionStrategy = "first_success"
)

// Valid reports whether s is a known strategy.
func (s CompletionStrategy) Valid() bool {
	switch s {
	case CompletionAll, CompletionMajority, CompletionAny, CompletionThreshold, CompletionFirstSuccess:
		return true
	}
	return false
}

// ConditionType is the firing rule of an edge.
type ConditionType string

const (
	ConditionAlways  ConditionType = "always"
	ConditionSuccess ConditionType = "success"
	ConditionFailure ConditionType = "failure"
	ConditionCustom  ConditionType = "custom"
)

// Valid reports whether c is a known condition type.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionAlways, ConditionSuccess, ConditionFailure, ConditionCustom:
		return true
	}
	return false
}

// HITLConfig configures human-in-the-loop review for one agent.
type HITLConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	InterventionPoints []string `json:"intervention_points,omitempty" yaml:"intervention_points,omitempty"`
}

// Agent is one participant of a workflow.
type Agent struct {
	ID             string      `json:"id" yaml:"id"`
	Name           string      `json:"name" yaml:"name"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt   string      `json:"system_prompt" yaml:"system_prompt"`
	Model          string      `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature    float64     `json:"temperature" yaml:"temperature"`
	MaxTokens      int         `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	DependsOn      []string    `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds" yaml:"timeout_seconds"`
	HITL           *HITLConfig `json:"hitl,omitempty" yaml:"hitl,omitempty"`
}

// HITLEnabled reports whether the agent pauses for human review.
func (a Agent) HITLEnabled() bool {
	return a.HITL != nil && a.HITL.Enabled
}

// Edge connects two nodes of a workflow graph.
type Edge struct {
	FromNode      string        `json:"from_node" yaml:"from_node"`
	ToNode        string        `json:"to_node" yaml:"to_node"`
	ConditionType ConditionType `json:"condition_type" yaml:"condition_type"`
	Condition     string        `json:"condition,omitempty" yaml:"condition,omitempty"`
	EdgeID        string        `json:"edge_id" yaml:"edge_id"`
	Weight        float64       `json:"weight" yaml:"weight"`
}

// GraphStructure is the persisted shape of a conditional workflow graph.
type GraphStructure struct {
	Nodes      []string `json:"nodes" yaml:"nodes"`
	Edges      []Edge   `json:"edges" yaml:"edges"`
	EntryPoint string   `json:"entry_point" yaml:"entry_point"`
	ExitPoints []string `json:"exit_points" yaml:"exit_points"`
	GraphID    string   `json:"graph_id" yaml:"graph_id"`
	Version    string   `json:"version" yaml:"version"`
}

// IsEmpty reports whether the structure carries no nodes and no edges.
func (g *GraphStructure) IsEmpty() bool {
	return g == nil || (len(g.Nodes) == 0 && len(g.Edges) == 0 && g.EntryPoint == "")
}

// ConditionRule is a legacy conditional-mode routing entry.
type ConditionRule struct {
	From          string        `json:"from" yaml:"from"`
	To            string        `json:"to" yaml:"to"`
	ConditionType ConditionType `json:"condition_type,omitempty" yaml:"condition_type,omitempty"`
	Condition     string        `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// WorkflowConfig describes how the agents of a template are orchestrated.
type WorkflowConfig struct {
	Mode                WorkflowMode       `json:"mode" yaml:"mode"`
	Sequence            []string           `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	ParallelGroups      [][]string         `json:"parallel_groups,omitempty" yaml:"parallel_groups,omitempty"`
	Conditions          []ConditionRule    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Graph               *GraphStructure    `json:"graph,omitempty" yaml:"graph,omitempty"`
	MaxConcurrentAgents int                `json:"max_concurrent_agents,omitempty" yaml:"max_concurrent_agents,omitempty"`
	CompletionStrategy  CompletionStrategy `json:"completion_strategy,omitempty" yaml:"completion_strategy,omitempty"`
	RequiredCompletions int                `json:"required_completions,omitempty" yaml:"required_completions,omitempty"`
	TimeoutSeconds      int                `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// WorkflowTemplate bundles agents with their orchestration.
type WorkflowTemplate struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Agents      []Agent        `json:"agents" yaml:"agents"`
	Workflow    WorkflowConfig `json:"workflow" yaml:"workflow"`
}

// AgentIndex maps agent ids to their declaration position. Duplicate ids keep
// the first position.
func (t *WorkflowTemplate) AgentIndex() map[string]int {
	idx := make(map[string]int, len(t.Agents))
	for i, a := range t.Agents {
		if _, ok := idx[a.ID]; !ok {
			idx[a.ID] = i
		}
	}
	return idx
}
