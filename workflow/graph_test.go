package workflow

import (
	"testing"

	"github.com/BaSui01/agentgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent(id string, timeout int, deps ...string) types.Agent {
	return types.Agent{ID: id, Name: id, SystemPrompt: "do " + id, TimeoutSeconds: timeout, DependsOn: deps}
}

func edgePairs(g *Graph) [][2]string {
	out := make([][2]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		out = append(out, [2]string{e.FromNode, e.ToNode})
	}
	return out
}

func TestBuildGraph_Empty(t *testing.T) {
	g := BuildGraph(nil, types.WorkflowConfig{Mode: types.ModeSequential})
	assert.True(t, g.IsEmpty())
	assert.Empty(t, g.Edges)
	assert.Empty(t, g.Outgoing)
}

func TestBuildGraph_Sequential(t *testing.T) {
	agents := []types.Agent{agent("a", 60), agent("b", 60), agent("c", 60)}

	t.Run("declaration order", func(t *testing.T) {
		g := BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeSequential})
		assert.Equal(t, []string{"a", "b", "c"}, g.Nodes)
		assert.Equal(t, [][2]string{
			{"start", "a"}, {"a", "b"}, {"b", "c"}, {"c", "end"},
		}, edgePairs(g))
		for _, e := range g.Edges {
			assert.Equal(t, types.ConditionAlways, e.ConditionType)
		}
	})

	t.Run("explicit sequence", func(t *testing.T) {
		g := BuildGraph(agents, types.WorkflowConfig{
			Mode:     types.ModeSequential,
			Sequence: []string{"c", "ghost", "a"},
		})
		assert.Equal(t, [][2]string{
			{"start", "c"}, {"c", "a"}, {"a", "b"}, {"b", "end"},
		}, edgePairs(g))
	})

	t.Run("adjacency maps", func(t *testing.T) {
		g := BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeSequential})
		require.Len(t, g.Outgoing["a"], 1)
		assert.Equal(t, "b", g.Outgoing["a"][0].ToNode)
		require.Len(t, g.Incoming["a"], 1)
		assert.Equal(t, types.NodeStart, g.Incoming["a"][0].FromNode)
		assert.Equal(t, []string{"b"}, g.Successors("a"))
		assert.Empty(t, g.Predecessors("a"))
	})
}

func TestBuildGraph_Parallel(t *testing.T) {
	agents := []types.Agent{agent("a", 60), agent("b", 60), agent("c", 60)}

	t.Run("fan out and in", func(t *testing.T) {
		g := BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeParallel})
		assert.Equal(t, [][2]string{
			{"start", "a"}, {"a", "end"},
			{"start", "b"}, {"b", "end"},
			{"start", "c"}, {"c", "end"},
		}, edgePairs(g))
		for _, n := range g.Nodes {
			assert.Empty(t, g.Successors(n))
		}
	})

	t.Run("groups chain internally", func(t *testing.T) {
		g := BuildGraph(agents, types.WorkflowConfig{
			Mode:           types.ModeParallel,
			ParallelGroups: [][]string{{"a", "b"}},
		})
		assert.Equal(t, [][2]string{
			{"start", "a"}, {"a", "b"}, {"b", "end"},
			{"start", "c"}, {"c", "end"},
		}, edgePairs(g))
	})
}

func TestBuildGraph_Conditional(t *testing.T) {
	t.Run("derived from depends_on", func(t *testing.T) {
		agents := []types.Agent{agent("a", 60), agent("b", 60, "a"), agent("c", 60, "a", "b")}
		g := BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeConditional})
		assert.Equal(t, [][2]string{
			{"a", "b"}, {"a", "c"}, {"b", "c"}, {"start", "a"}, {"c", "end"},
		}, edgePairs(g))
		assert.Equal(t, []string{"a", "b"}, g.Predecessors("c"))
	})

	t.Run("self and unknown dependencies are not wired", func(t *testing.T) {
		agents := []types.Agent{agent("a", 60, "a", "ghost")}
		g := BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeConditional})
		assert.Equal(t, [][2]string{{"start", "a"}, {"a", "end"}}, edgePairs(g))
	})

	t.Run("explicit graph kept verbatim", func(t *testing.T) {
		agents := []types.Agent{agent("a", 60), agent("b", 60)}
		g := BuildGraph(agents, types.WorkflowConfig{
			Mode: types.ModeConditional,
			Graph: &types.GraphStructure{
				Nodes:      []string{"a", "b"},
				EntryPoint: "a",
				Edges: []types.Edge{
					{FromNode: "a", ToNode: "b", ConditionType: types.ConditionCustom, Condition: `a.score > 3`, EdgeID: "x1"},
					{FromNode: "b", ToNode: "end", ConditionType: types.ConditionAlways, EdgeID: "x2"},
				},
			},
		})
		assert.Equal(t, [][2]string{{"a", "b"}, {"b", "end"}}, edgePairs(g))
		assert.Equal(t, "x1", g.Edges[0].EdgeID)
		assert.Equal(t, "a", g.EntryPoint)
	})

	t.Run("legacy conditions", func(t *testing.T) {
		agents := []types.Agent{agent("a", 60), agent("b", 60)}
		g := BuildGraph(agents, types.WorkflowConfig{
			Mode: types.ModeConditional,
			Conditions: []types.ConditionRule{
				{From: "a", To: "b", ConditionType: types.ConditionFailure},
			},
		})
		assert.Equal(t, [][2]string{{"a", "b"}, {"start", "a"}, {"b", "end"}}, edgePairs(g))
		assert.Equal(t, types.ConditionFailure, g.Edges[0].ConditionType)
	})
}

func TestBuildGraph_DeterministicEdgeIDs(t *testing.T) {
	agents := []types.Agent{agent("a", 60), agent("b", 60)}
	cfg := types.WorkflowConfig{
		Mode: types.ModeConditional,
		Graph: &types.GraphStructure{Edges: []types.Edge{
			{FromNode: "a", ToNode: "b", EdgeID: "dup"},
			{FromNode: "a", ToNode: "b", EdgeID: "dup"},
		}},
	}
	first := BuildGraph(agents, cfg)
	second := BuildGraph(agents, cfg)
	assert.Equal(t, first.Edges, second.Edges)
	assert.Equal(t, "dup", first.Edges[0].EdgeID)
	assert.Equal(t, "e-a-b", first.Edges[1].EdgeID)
}

func TestGraph_ToStructure(t *testing.T) {
	agents := []types.Agent{agent("a", 60), agent("b", 60, "a"), agent("c", 60, "a")}
	g := BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeConditional})

	gs := g.ToStructure("g-1", "1")
	assert.Equal(t, []string{"a", "b", "c"}, gs.Nodes)
	assert.Equal(t, "a", gs.EntryPoint)
	assert.Equal(t, []string{"b", "c"}, gs.ExitPoints)
	assert.Equal(t, "g-1", gs.GraphID)
	for _, n := range gs.Nodes {
		assert.False(t, types.IsVirtualNode(n))
	}
}
