package validation

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

const ruleSchema = "schema"

// ValidateGraphJSON checks a persisted graph document: its JSON shape first,
// then the structural invariants of GraphStructure, cycles and reachability.
func (e *Engine) ValidateGraphJSON(data []byte) *Result {
	violations := workflow.CheckGraphSchema(data)
	if len(violations) > 0 {
		issues := make([]Issue, 0, len(violations))
		for _, v := range violations {
			issues = append(issues, Issue{
				Field:    "graph" + jsonPointerToField(v.Path),
				Message:  v.Message,
				Severity: SeverityError,
				Rule:     ruleSchema,
			})
		}
		return newResult(issues)
	}

	gs, err := workflow.DecodeGraphJSON(data)
	if err != nil {
		return newResult([]Issue{{Field: "graph", Message: err.Error(), Severity: SeverityError, Rule: ruleSchema}})
	}
	return e.ValidateGraph(gs)
}

// ValidateGraph checks a decoded graph structure on its own, without agents.
// Every listed node is treated as an agent.
func (e *Engine) ValidateGraph(gs *types.GraphStructure) *Result {
	tmpl := &types.WorkflowTemplate{
		Workflow: types.WorkflowConfig{Mode: types.ModeConditional, Graph: gs},
	}
	for _, n := range gs.Nodes {
		tmpl.Agents = append(tmpl.Agents, types.Agent{ID: n})
	}

	rc := newRuleContext(tmpl, e.limits)

	rc.rule = ruleStructural
	if len(gs.Nodes) > 0 && gs.EntryPoint == "" {
		rc.errorf("graph.entry_point", "Entry point is required")
	}
	seenEdges := make(map[string]bool, len(gs.Edges))
	for j, edge := range gs.Edges {
		if seenEdges[edge.EdgeID] {
			rc.errorf(fmt.Sprintf("graph.edges[%d].edge_id", j), "Duplicate edge id %q", edge.EdgeID)
		}
		seenEdges[edge.EdgeID] = true
	}
	for j, exit := range gs.ExitPoints {
		if !rc.agentIDs[exit] {
			rc.errorf(fmt.Sprintf("graph.exit_points[%d]", j), "Exit point %q is not a graph node", exit)
		}
	}

	for _, r := range []rule{
		{ruleReferences, checkReferences},
		{ruleSelfDep, checkSelfDependency},
		{ruleCycle, checkCycle},
		{ruleMode, checkModeConsistency},
		{ruleReachability, checkReachability},
	} {
		rc.rule = r.name
		r.check(rc)
	}

	// Fields are reported relative to the graph document
	for i := range rc.issues {
		rc.issues[i].Field = strings.Replace(rc.issues[i].Field, "workflow.graph", "graph", 1)
		if rc.issues[i].Field == "workflow.dependencies" {
			rc.issues[i].Field = "graph.edges"
		}
		if strings.HasPrefix(rc.issues[i].Field, "agents[") {
			rc.issues[i].Field = "graph.nodes" + strings.TrimSuffix(strings.TrimPrefix(rc.issues[i].Field, "agents"), ".id")
		}
	}
	return newResult(rc.issues)
}

func jsonPointerToField(ptr string) string {
	if ptr == "" || ptr == "$" {
		return ""
	}
	var b strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if part != "" && strings.Trim(part, "0123456789") == "" {
			b.WriteString("[" + part + "]")
			continue
		}
		b.WriteString("." + part)
	}
	return b.String()
}
