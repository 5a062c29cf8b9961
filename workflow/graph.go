package workflow

import (
	"fmt"

	"github.com/BaSui01/agentgraph/types"
)

// Graph is the canonical directed graph of a workflow template.
// Nodes holds agent ids only; Edges may reference the virtual start/end nodes.
type Graph struct {
	Mode  types.WorkflowMode
	Nodes []string
	Edges []types.Edge
	// Outgoing maps a node id (agent or virtual) to the edges leaving it
	Outgoing map[string][]types.Edge
	// Incoming maps a node id (agent or virtual) to the edges entering it
	Incoming map[string][]types.Edge
	// EntryPoint is the configured entry agent, empty when the graph starts at the virtual start node
	EntryPoint string
	// Timeouts holds the configured timeout in seconds per agent
	Timeouts map[string]int

	index map[string]int
}

// IsEmpty reports whether the graph has no agent nodes.
func (g *Graph) IsEmpty() bool {
	return g == nil || len(g.Nodes) == 0
}

// HasNode reports whether id is an agent node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Position returns the declaration position of an agent node, or -1.
func (g *Graph) Position(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Successors returns the distinct agent nodes reachable over one edge from id,
// in edge order. Virtual nodes and unknown endpoints are skipped.
func (g *Graph) Successors(id string) []string {
	return g.agentEndpoints(g.Outgoing[id], func(e types.Edge) string { return e.ToNode })
}

// Predecessors returns the distinct agent nodes with an edge into id, in edge order.
func (g *Graph) Predecessors(id string) []string {
	return g.agentEndpoints(g.Incoming[id], func(e types.Edge) string { return e.FromNode })
}

func (g *Graph) agentEndpoints(edges []types.Edge, pick func(types.Edge) string) []string {
	var out []string
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		n := pick(e)
		if !g.HasNode(n) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ToStructure converts the graph into its persisted shape.
func (g *Graph) ToStructure(graphID, version string) *types.GraphStructure {
	gs := &types.GraphStructure{
		Nodes:      append([]string{}, g.Nodes...),
		Edges:      append([]types.Edge{}, g.Edges...),
		EntryPoint: g.EntryPoint,
		ExitPoints: []string{},
		GraphID:    graphID,
		Version:    version,
	}
	if gs.EntryPoint == "" {
		for _, n := range g.Nodes {
			if len(g.Predecessors(n)) == 0 {
				gs.EntryPoint = n
				break
			}
		}
	}

	// Exit points: agents wired to the end node, or agents without successors
	for _, n := range g.Nodes {
		toEnd := false
		for _, e := range g.Outgoing[n] {
			if e.ToNode == types.NodeEnd {
				toEnd = true
				break
			}
		}
		if toEnd || len(g.Successors(n)) == 0 {
			gs.ExitPoints = append(gs.ExitPoints, n)
		}
	}
	return gs
}

// BuildGraph turns agents and workflow configuration into a canonical graph.
// It is a pure function of its inputs; an empty agent list yields an empty graph.
func BuildGraph(agents []types.Agent, cfg types.WorkflowConfig) *Graph {
	b := newGraphBuilder(cfg.Mode)
	for _, a := range agents {
		b.addNode(a.ID, a.TimeoutSeconds)
	}
	if len(b.g.Nodes) == 0 {
		return b.g
	}

	switch cfg.Mode {
	case types.ModeParallel:
		b.buildParallel(cfg.ParallelGroups)
	case types.ModeConditional:
		b.buildConditional(agents, cfg)
	default:
		b.buildSequential(cfg.Sequence)
	}
	return b.g
}

type graphBuilder struct {
	g       *Graph
	edgeIDs map[string]bool
	pairs   map[[2]string]bool
}

func newGraphBuilder(mode types.WorkflowMode) *graphBuilder {
	return &graphBuilder{
		g: &Graph{
			Mode:     mode,
			Outgoing: make(map[string][]types.Edge),
			Incoming: make(map[string][]types.Edge),
			Timeouts: make(map[string]int),
			index:    make(map[string]int),
		},
		edgeIDs: make(map[string]bool),
		pairs:   make(map[[2]string]bool),
	}
}

func (b *graphBuilder) addNode(id string, timeout int) {
	if id == "" || types.IsVirtualNode(id) {
		return
	}
	if _, dup := b.g.index[id]; dup {
		return
	}
	b.g.index[id] = len(b.g.Nodes)
	b.g.Nodes = append(b.g.Nodes, id)
	b.g.Timeouts[id] = timeout
}

func (b *graphBuilder) addEdge(e types.Edge) {
	if e.ConditionType == "" {
		e.ConditionType = types.ConditionAlways
	}
	if e.EdgeID == "" || b.edgeIDs[e.EdgeID] {
		e.EdgeID = b.nextEdgeID(e.FromNode, e.ToNode)
	}
	b.edgeIDs[e.EdgeID] = true
	b.pairs[[2]string{e.FromNode, e.ToNode}] = true

	b.g.Edges = append(b.g.Edges, e)
	b.g.Outgoing[e.FromNode] = append(b.g.Outgoing[e.FromNode], e)
	b.g.Incoming[e.ToNode] = append(b.g.Incoming[e.ToNode], e)
}

func (b *graphBuilder) link(from, to string) {
	b.addEdge(types.Edge{FromNode: from, ToNode: to, ConditionType: types.ConditionAlways, Weight: 1})
}

func (b *graphBuilder) nextEdgeID(from, to string) string {
	id := fmt.Sprintf("e-%s-%s", from, to)
	for i := 2; b.edgeIDs[id]; i++ {
		id = fmt.Sprintf("e-%s-%s-%d", from, to, i)
	}
	return id
}

// buildSequential chains agents start→a0→…→an→end. A configured sequence
// defines the order; agents it omits follow in declaration order.
func (b *graphBuilder) buildSequential(sequence []string) {
	order := make([]string, 0, len(b.g.Nodes))
	used := make(map[string]bool, len(b.g.Nodes))
	for _, id := range sequence {
		if b.g.HasNode(id) && !used[id] {
			used[id] = true
			order = append(order, id)
		}
	}
	for _, id := range b.g.Nodes {
		if !used[id] {
			order = append(order, id)
		}
	}

	prev := types.NodeStart
	for _, id := range order {
		b.link(prev, id)
		prev = id
	}
	b.link(prev, types.NodeEnd)
}

// buildParallel fans every agent out from start and back into end. Group
// members are chained internally; each group behaves as one branch.
func (b *graphBuilder) buildParallel(groups [][]string) {
	grouped := make(map[string]bool, len(b.g.Nodes))
	var branches [][]string
	for _, group := range groups {
		var members []string
		for _, id := range group {
			if b.g.HasNode(id) && !grouped[id] {
				grouped[id] = true
				members = append(members, id)
			}
		}
		if len(members) > 0 {
			branches = append(branches, members)
		}
	}
	for _, id := range b.g.Nodes {
		if !grouped[id] {
			branches = append(branches, []string{id})
		}
	}

	for _, members := range branches {
		prev := types.NodeStart
		for _, id := range members {
			b.link(prev, id)
			prev = id
		}
		b.link(prev, types.NodeEnd)
	}
}

// buildConditional keeps an explicit graph verbatim. Without one, legacy
// condition rules are used and roots/leaves are wired to start/end. Edges
// implied by depends_on are added in both cases unless already present.
func (b *graphBuilder) buildConditional(agents []types.Agent, cfg types.WorkflowConfig) {
	explicit := cfg.Graph != nil && len(cfg.Graph.Edges) > 0
	if explicit {
		for _, e := range cfg.Graph.Edges {
			b.addEdge(e)
		}
		if b.g.HasNode(cfg.Graph.EntryPoint) {
			b.g.EntryPoint = cfg.Graph.EntryPoint
		}
	} else {
		for _, c := range cfg.Conditions {
			b.addEdge(types.Edge{
				FromNode:      c.From,
				ToNode:        c.To,
				ConditionType: c.ConditionType,
				Condition:     c.Condition,
				Weight:        1,
			})
		}
	}

	// Self and unknown dependencies are reported by validation, not wired
	for _, a := range agents {
		for _, dep := range a.DependsOn {
			if dep == a.ID || !b.g.HasNode(dep) || b.pairs[[2]string{dep, a.ID}] {
				continue
			}
			b.addEdge(types.Edge{
				FromNode:      dep,
				ToNode:        a.ID,
				ConditionType: types.ConditionSuccess,
				Weight:        1,
			})
		}
	}

	if explicit {
		return
	}
	for _, id := range b.g.Nodes {
		if len(b.g.Predecessors(id)) == 0 && len(b.g.Incoming[id]) == 0 {
			b.link(types.NodeStart, id)
		}
	}
	for _, id := range b.g.Nodes {
		if len(b.g.Successors(id)) == 0 && len(b.g.Outgoing[id]) == 0 {
			b.link(id, types.NodeEnd)
		}
	}
}
