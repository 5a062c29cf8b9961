package validation

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/expr"
)

// Rule group names, in evaluation order.
const (
	ruleStructural   = "structural"
	ruleReferences   = "dependency_reference"
	ruleSelfDep      = "self_dependency"
	ruleCycle        = "cycle"
	ruleMode         = "mode_consistency"
	ruleCompletion   = "completion_strategy"
	ruleParallel     = "parallel_groups"
	ruleTimeouts     = "timeouts"
	ruleHITL         = "hitl"
	ruleReachability = "reachability"
)

type rule struct {
	name  string
	check func(rc *ruleContext)
}

var rules = []rule{
	{ruleStructural, checkStructural},
	{ruleReferences, checkReferences},
	{ruleSelfDep, checkSelfDependency},
	{ruleCycle, checkCycle},
	{ruleMode, checkModeConsistency},
	{ruleCompletion, checkCompletionStrategy},
	{ruleParallel, checkParallelGroups},
	{ruleTimeouts, checkTimeouts},
	{ruleHITL, checkHITL},
	{ruleReachability, checkReachability},
}

// ruleContext carries the shared, read-only inputs of one run plus the
// issues collected so far.
type ruleContext struct {
	tmpl     *types.WorkflowTemplate
	cfg      types.WorkflowConfig
	mode     types.WorkflowMode
	limits   Limits
	agentIDs map[string]bool
	graph    *workflow.Graph
	analysis workflow.Analysis

	rule   string
	issues []Issue
}

func newRuleContext(tmpl *types.WorkflowTemplate, limits Limits) *ruleContext {
	rc := &ruleContext{
		tmpl:     tmpl,
		cfg:      tmpl.Workflow,
		mode:     effectiveMode(tmpl.Workflow.Mode),
		limits:   limits,
		agentIDs: make(map[string]bool, len(tmpl.Agents)),
	}
	for _, a := range tmpl.Agents {
		if a.ID != "" {
			rc.agentIDs[a.ID] = true
		}
	}
	rc.graph, rc.analysis = Analyze(tmpl)
	return rc
}

func (rc *ruleContext) errorf(field, format string, args ...any) {
	rc.issues = append(rc.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError, Rule: rc.rule})
}

func (rc *ruleContext) warnf(field, format string, args ...any) {
	rc.issues = append(rc.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning, Rule: rc.rule})
}

func (rc *ruleContext) agentCount() int { return len(rc.tmpl.Agents) }

func (rc *ruleContext) strategy() types.CompletionStrategy {
	if rc.cfg.CompletionStrategy == "" {
		return types.CompletionAll
	}
	return rc.cfg.CompletionStrategy
}

func (rc *ruleContext) knownNode(id string) bool {
	return rc.agentIDs[id] || types.IsVirtualNode(id)
}

func (rc *ruleContext) hasGraph() bool {
	return !rc.cfg.Graph.IsEmpty()
}

func agentField(i int, name string) string {
	return fmt.Sprintf("agents[%d].%s", i, name)
}

// checkStructural enforces required fields and per-agent ranges.
func checkStructural(rc *ruleContext) {
	if strings.TrimSpace(rc.tmpl.Name) == "" {
		rc.errorf("name", "Template name is required")
	}
	if strings.TrimSpace(rc.tmpl.Description) == "" {
		rc.errorf("description", "Template description is required")
	}

	n := rc.agentCount()
	switch {
	case n < rc.limits.MinAgents:
		rc.errorf("agents", "At least %d agent is required", rc.limits.MinAgents)
	case n > rc.limits.MaxAgents:
		rc.errorf("agents", "At most %d agents are allowed, got %d", rc.limits.MaxAgents, n)
	}

	if rc.cfg.Mode != "" && !rc.cfg.Mode.Valid() {
		rc.errorf("workflow.mode", "Unknown workflow mode %q", rc.cfg.Mode)
	}
	if rc.cfg.CompletionStrategy != "" && !rc.cfg.CompletionStrategy.Valid() {
		rc.errorf("workflow.completion_strategy", "Unknown completion strategy %q", rc.cfg.CompletionStrategy)
	}

	seen := make(map[string]bool, n)
	for i, a := range rc.tmpl.Agents {
		switch {
		case strings.TrimSpace(a.ID) == "":
			rc.errorf(agentField(i, "id"), "Agent id is required")
		case types.IsVirtualNode(a.ID):
			rc.errorf(agentField(i, "id"), "Agent id %q is reserved", a.ID)
		case seen[a.ID]:
			rc.errorf(agentField(i, "id"), "Duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true

		if strings.TrimSpace(a.Name) == "" {
			rc.errorf(agentField(i, "name"), "Agent name is required")
		}
		if strings.TrimSpace(a.SystemPrompt) == "" {
			rc.errorf(agentField(i, "system_prompt"), "Agent prompt is required")
		}
		if a.TimeoutSeconds <= 0 {
			rc.errorf(agentField(i, "timeout_seconds"), "Agent timeout is required")
		}
		if a.Temperature < 0 || a.Temperature > rc.limits.MaxTemperature {
			rc.errorf(agentField(i, "temperature"), "Temperature must be between 0 and %g", rc.limits.MaxTemperature)
		}
		// 0 leaves the model default in place
		if a.MaxTokens < 0 || a.MaxTokens > rc.limits.MaxTokens {
			rc.errorf(agentField(i, "max_tokens"), "Max tokens must be between 1 and %d, or 0 for the model default", rc.limits.MaxTokens)
		}
	}
}

// checkReferences requires every dependency and edge endpoint to resolve.
func checkReferences(rc *ruleContext) {
	for i, a := range rc.tmpl.Agents {
		for _, dep := range a.DependsOn {
			if dep == a.ID {
				continue
			}
			if !rc.knownNode(dep) {
				rc.errorf(agentField(i, "depends_on"), "Agent %q depends on unknown agent %q", a.ID, dep)
			}
		}
	}

	if g := rc.cfg.Graph; g != nil {
		listed := make(map[string]bool, len(g.Nodes))
		for j, n := range g.Nodes {
			listed[n] = true
			switch {
			case types.IsVirtualNode(n):
				rc.errorf(fmt.Sprintf("workflow.graph.nodes[%d]", j), "Virtual node %q must not be listed in nodes", n)
			case !rc.agentIDs[n]:
				rc.errorf(fmt.Sprintf("workflow.graph.nodes[%d]", j), "Graph node %q is not an agent", n)
			}
		}
		for j, e := range g.Edges {
			for _, end := range []struct{ name, id string }{{"from_node", e.FromNode}, {"to_node", e.ToNode}} {
				field := fmt.Sprintf("workflow.graph.edges[%d].%s", j, end.name)
				switch {
				case !rc.knownNode(end.id):
					rc.errorf(field, "Edge references unknown node %q", end.id)
				case len(g.Nodes) > 0 && !types.IsVirtualNode(end.id) && !listed[end.id]:
					rc.errorf(field, "Edge node %q is missing from graph nodes", end.id)
				}
			}
		}
	}

	for j, c := range rc.cfg.Conditions {
		if !rc.knownNode(c.From) {
			rc.errorf(fmt.Sprintf("workflow.conditions[%d].from", j), "Condition references unknown node %q", c.From)
		}
		if !rc.knownNode(c.To) {
			rc.errorf(fmt.Sprintf("workflow.conditions[%d].to", j), "Condition references unknown node %q", c.To)
		}
	}
}

// checkSelfDependency rejects agents that depend on themselves.
func checkSelfDependency(rc *ruleContext) {
	for i, a := range rc.tmpl.Agents {
		for _, dep := range a.DependsOn {
			if a.ID != "" && dep == a.ID {
				rc.errorf(agentField(i, "depends_on"), "Agent %q cannot depend on itself", a.ID)
				break
			}
		}
	}
	if g := rc.cfg.Graph; g != nil {
		for j, e := range g.Edges {
			if e.FromNode == e.ToNode && rc.agentIDs[e.FromNode] {
				rc.errorf(fmt.Sprintf("workflow.graph.edges[%d]", j), "Agent %q cannot depend on itself", e.FromNode)
			}
		}
	}
}

// checkCycle reports circular dependencies in conditional graphs.
func checkCycle(rc *ruleContext) {
	if rc.mode != types.ModeConditional || !rc.analysis.Cycles.HasCycle {
		return
	}
	rc.errorf("workflow.dependencies", "Circular dependency detected between agents: %s",
		strings.Join(rc.analysis.Cycles.Nodes, ", "))
}

// checkModeConsistency warns about fields of other modes and requires the
// active mode's structure once the user has started configuring it.
func checkModeConsistency(rc *ruleContext) {
	if !rc.mode.Valid() {
		return
	}

	if len(rc.cfg.Sequence) > 0 && rc.mode != types.ModeSequential {
		rc.warnf("workflow.sequence", "sequence is ignored in %s mode", rc.mode)
	}
	if len(rc.cfg.ParallelGroups) > 0 && rc.mode != types.ModeParallel {
		rc.warnf("workflow.parallel_groups", "parallel_groups is ignored in %s mode", rc.mode)
	}
	if len(rc.cfg.Conditions) > 0 && rc.mode != types.ModeConditional {
		rc.warnf("workflow.conditions", "conditions is ignored in %s mode", rc.mode)
	}
	if rc.hasGraph() && rc.mode == types.ModeSequential {
		rc.warnf("workflow.graph", "graph is ignored in %s mode", rc.mode)
	}
	if rc.cfg.MaxConcurrentAgents > 0 && rc.mode == types.ModeSequential {
		rc.warnf("workflow.max_concurrent_agents", "max_concurrent_agents is ignored in %s mode", rc.mode)
	}
	if rc.mode != types.ModeConditional {
		for i, a := range rc.tmpl.Agents {
			if len(a.DependsOn) > 0 {
				rc.warnf(agentField(i, "depends_on"), "depends_on is ignored in %s mode", rc.mode)
			}
		}
	}

	switch rc.mode {
	case types.ModeParallel:
		touched := len(rc.cfg.ParallelGroups) > 0 || rc.cfg.MaxConcurrentAgents > 0 || rc.hasGraph()
		g := rc.cfg.Graph
		graphComplete := rc.hasGraph() && g.EntryPoint != "" && len(g.ExitPoints) > 0
		if touched && len(rc.cfg.ParallelGroups) == 0 && !graphComplete {
			rc.errorf("workflow.parallel_groups", "Parallel mode requires parallel_groups or a graph with entry and exit points")
		}

	case types.ModeConditional:
		hasDeps := false
		for _, a := range rc.tmpl.Agents {
			if len(a.DependsOn) > 0 {
				hasDeps = true
				break
			}
		}
		if rc.hasGraph() {
			g := rc.cfg.Graph
			if len(g.Edges) == 0 && len(rc.cfg.Conditions) == 0 && !hasDeps {
				rc.errorf("workflow.graph.edges", "Conditional mode requires edges or agent dependencies")
			}
			if len(g.Edges) > 0 && g.EntryPoint == "" {
				rc.errorf("workflow.graph.entry_point", "Conditional graph requires an entry point")
			}
			for j, e := range g.Edges {
				checkEdgeCondition(rc, fmt.Sprintf("workflow.graph.edges[%d]", j), e.ConditionType, e.Condition)
			}
		}
		for j, c := range rc.cfg.Conditions {
			checkEdgeCondition(rc, fmt.Sprintf("workflow.conditions[%d]", j), c.ConditionType, c.Condition)
		}
	}
}

func checkEdgeCondition(rc *ruleContext, field string, ct types.ConditionType, condition string) {
	if ct != "" && !ct.Valid() {
		rc.errorf(field+".condition_type", "Unknown condition type %q", ct)
		return
	}
	if ct != types.ConditionCustom {
		if strings.TrimSpace(condition) != "" {
			rc.warnf(field+".condition", "condition is ignored for condition_type %q", ct)
		}
		return
	}
	if strings.TrimSpace(condition) == "" {
		rc.errorf(field+".condition", "Custom edges require a condition expression")
		return
	}
	e, err := expr.Compile(condition)
	if err != nil {
		rc.errorf(field+".condition", "Invalid condition expression: %v", err)
		return
	}
	for _, root := range e.Roots() {
		if !rc.agentIDs[root] {
			rc.warnf(field+".condition", "Condition references unknown agent %q", root)
		}
	}
}

// checkCompletionStrategy validates strategy-specific requirements.
func checkCompletionStrategy(rc *ruleContext) {
	n := rc.agentCount()
	switch rc.strategy() {
	case types.CompletionThreshold:
		rcount := rc.cfg.RequiredCompletions
		if rcount < 1 || rcount > n {
			rc.errorf("workflow.required_completions", "required_completions must be between 1 and %d, got %d", n, rcount)
		}
	case types.CompletionMajority:
		if n < 1 {
			rc.errorf("workflow.completion_strategy", "majority requires at least one agent")
		}
	case types.CompletionFirstSuccess:
		if n < 1 {
			rc.errorf("workflow.completion_strategy", "first_success requires at least one agent")
		}
		if rc.mode != types.ModeParallel {
			rc.errorf("workflow.completion_strategy", "first_success is only valid in parallel mode")
		}
	}

	if rc.cfg.RequiredCompletions != 0 && rc.strategy() != types.CompletionThreshold {
		rc.warnf("workflow.required_completions", "required_completions is ignored unless completion_strategy is threshold")
	}
}

// checkParallelGroups enforces concurrency bounds and group partitioning.
func checkParallelGroups(rc *ruleContext) {
	n := rc.agentCount()
	if rc.cfg.MaxConcurrentAgents < 0 {
		rc.errorf("workflow.max_concurrent_agents", "max_concurrent_agents must not be negative")
	} else if rc.cfg.MaxConcurrentAgents > n {
		rc.errorf("workflow.max_concurrent_agents", "max_concurrent_agents (%d) cannot exceed the number of agents (%d)", rc.cfg.MaxConcurrentAgents, n)
	}

	if rc.mode != types.ModeParallel || len(rc.cfg.ParallelGroups) == 0 {
		return
	}

	assigned := make(map[string]int)
	for i, group := range rc.cfg.ParallelGroups {
		field := fmt.Sprintf("workflow.parallel_groups[%d]", i)
		if len(group) == 0 {
			rc.errorf(field, "Parallel group must not be empty")
			continue
		}
		for _, id := range group {
			if !rc.agentIDs[id] {
				rc.errorf(field, "Parallel group references unknown agent %q", id)
				continue
			}
			if prev, dup := assigned[id]; dup {
				rc.errorf(field, "Agent %q already belongs to parallel_groups[%d]", id, prev)
				continue
			}
			assigned[id] = i
		}
	}

	var missing []string
	for _, a := range rc.tmpl.Agents {
		if _, ok := assigned[a.ID]; !ok && a.ID != "" {
			missing = append(missing, a.ID)
		}
	}
	if len(missing) > 0 {
		rc.errorf("workflow.parallel_groups", "Agents not assigned to any parallel group: %s", strings.Join(missing, ", "))
	}
}

// checkTimeouts enforces workflow and agent timeout bounds.
func checkTimeouts(rc *ruleContext) {
	wf := rc.cfg.TimeoutSeconds
	if wf < rc.limits.MinWorkflowTimeout || wf > rc.limits.MaxWorkflowTimeout {
		rc.errorf("workflow.timeout_seconds", "Workflow timeout must be between %d and %d seconds, got %d",
			rc.limits.MinWorkflowTimeout, rc.limits.MaxWorkflowTimeout, wf)
	}

	sum := 0
	for i, a := range rc.tmpl.Agents {
		if a.TimeoutSeconds <= 0 {
			continue
		}
		sum += a.TimeoutSeconds
		if a.TimeoutSeconds < rc.limits.MinAgentTimeout {
			rc.errorf(agentField(i, "timeout_seconds"), "Agent timeout must be at least %d seconds", rc.limits.MinAgentTimeout)
		}
		if wf > 0 && a.TimeoutSeconds >= wf {
			rc.errorf(agentField(i, "timeout_seconds"), "Agent timeout (%ds) must be less than the workflow timeout (%ds)", a.TimeoutSeconds, wf)
		}
	}

	if rc.mode == types.ModeSequential && wf > 0 && sum >= wf {
		rc.errorf("workflow.timeout_seconds", "Sum of agent timeouts (%ds) must be less than the workflow timeout (%ds) in sequential mode", sum, wf)
	}
}

// checkHITL flags human review settings that conflict with the workflow.
func checkHITL(rc *ruleContext) {
	wf := rc.cfg.TimeoutSeconds
	hitlAgents := 0
	for i, a := range rc.tmpl.Agents {
		if !a.HITLEnabled() {
			continue
		}
		hitlAgents++
		field := agentField(i, "hitl.timeout_seconds")
		if a.HITL.TimeoutSeconds < 0 {
			rc.errorf(field, "HITL timeout must not be negative")
		} else if wf > 0 && a.HITL.TimeoutSeconds >= wf {
			rc.errorf(field, "HITL timeout (%ds) must be less than the workflow timeout (%ds)", a.HITL.TimeoutSeconds, wf)
		}
	}

	switch {
	case hitlAgents > 0 && rc.strategy() == types.CompletionFirstSuccess:
		rc.warnf("workflow.completion_strategy", "HITL review may never be reached with first_success: another agent can finish the workflow first")
	case hitlAgents > 1 && rc.strategy() == types.CompletionAny:
		rc.warnf("workflow.completion_strategy", "%d HITL agents with completion_strategy any: later interventions may never be reached", hitlAgents)
	}
}

// checkReachability warns about agents the entry point cannot reach.
func checkReachability(rc *ruleContext) {
	if g := rc.cfg.Graph; g != nil && g.EntryPoint != "" && rc.mode == types.ModeConditional {
		inNodes := len(g.Nodes) == 0
		for _, n := range g.Nodes {
			if n == g.EntryPoint {
				inNodes = true
				break
			}
		}
		if !rc.agentIDs[g.EntryPoint] || !inNodes {
			rc.errorf("workflow.graph.entry_point", "Entry point %q is not a graph node", g.EntryPoint)
			return
		}
	}

	if rc.graph.IsEmpty() {
		return
	}
	index := rc.tmpl.AgentIndex()
	for _, id := range rc.analysis.Reachability.Unreachable {
		rc.warnf(agentField(index[id], "id"), "Agent %q is not reachable from %s", id, rc.analysis.Reachability.Root)
	}
}
