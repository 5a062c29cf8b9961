package workflow

import (
	"testing"

	"github.com/BaSui01/agentgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conditional(agents ...types.Agent) *Graph {
	return BuildGraph(agents, types.WorkflowConfig{Mode: types.ModeConditional})
}

func TestDetectCycles(t *testing.T) {
	tests := []struct {
		name     string
		graph    *Graph
		hasCycle bool
		nodes    []string
	}{
		{
			name:  "empty graph",
			graph: conditional(),
		},
		{
			name:  "diamond is acyclic",
			graph: conditional(agent("a", 60), agent("b", 60, "a"), agent("c", 60, "a"), agent("d", 60, "b", "c")),
		},
		{
			name:     "two node cycle",
			graph:    conditional(agent("a", 60, "b"), agent("b", 60, "a")),
			hasCycle: true,
			nodes:    []string{"a", "b"},
		},
		{
			name:     "three node cycle with tail outside",
			graph:    conditional(agent("a", 60, "c"), agent("b", 60, "a"), agent("c", 60, "b"), agent("d", 60, "c")),
			hasCycle: true,
			nodes:    []string{"a", "b", "c"},
		},
		{
			name:     "sequential chain never cycles",
			graph:    BuildGraph([]types.Agent{agent("a", 60), agent("b", 60)}, types.WorkflowConfig{Mode: types.ModeSequential}),
			hasCycle: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := DetectCycles(tt.graph)
			assert.Equal(t, tt.hasCycle, report.HasCycle)
			assert.Equal(t, tt.nodes, report.Nodes)
		})
	}
}

func TestDetectCycles_ExplicitSelfLoop(t *testing.T) {
	g := BuildGraph([]types.Agent{agent("a", 60)}, types.WorkflowConfig{
		Mode: types.ModeConditional,
		Graph: &types.GraphStructure{Edges: []types.Edge{
			{FromNode: "a", ToNode: "a", EdgeID: "loop"},
		}},
	})
	report := DetectCycles(g)
	assert.True(t, report.HasCycle)
	assert.Equal(t, []string{"a"}, report.Nodes)
}

func TestTopologicalLevels(t *testing.T) {
	g := conditional(agent("a", 60), agent("b", 60, "a"), agent("c", 60, "a"), agent("d", 60, "b", "c"), agent("e", 60))

	lv := TopologicalLevels(g)
	require.True(t, lv.Complete)
	assert.Equal(t, [][]string{{"a", "e"}, {"b", "c"}, {"d"}}, lv.Levels)
	assert.Equal(t, map[string]int{"a": 0, "e": 0, "b": 1, "c": 1, "d": 2}, lv.LevelOf)
}

func TestTopologicalLevels_IncompleteWithCycle(t *testing.T) {
	g := conditional(agent("a", 60), agent("b", 60, "a", "c"), agent("c", 60, "b"))

	lv := TopologicalLevels(g)
	assert.False(t, lv.Complete)
	assert.Equal(t, [][]string{{"a"}}, lv.Levels)
}

func TestFindCriticalPath(t *testing.T) {
	t.Run("longest branch wins", func(t *testing.T) {
		// A(30m) -> B(20m), A -> C(10m)
		g := conditional(agent("A", 30*60), agent("B", 20*60, "A"), agent("C", 10*60, "A"))
		cp := FindCriticalPath(g)
		assert.Equal(t, []string{"A", "B"}, cp.Nodes)
		assert.InDelta(t, 50.0, cp.LengthMinutes, 1e-9)
	})

	t.Run("ties prefer first listed dependency", func(t *testing.T) {
		g := conditional(agent("x", 600), agent("y", 600), agent("z", 60, "y", "x"))
		cp := FindCriticalPath(g)
		assert.Equal(t, []string{"y", "z"}, cp.Nodes)
		assert.InDelta(t, 11.0, cp.LengthMinutes, 1e-9)
	})

	t.Run("ties between end nodes prefer declaration order", func(t *testing.T) {
		g := conditional(agent("p", 120), agent("q", 120))
		cp := FindCriticalPath(g)
		assert.Equal(t, []string{"p"}, cp.Nodes)
	})

	t.Run("cycle yields empty path", func(t *testing.T) {
		g := conditional(agent("a", 60, "b"), agent("b", 60, "a"))
		assert.Empty(t, FindCriticalPath(g).Nodes)
	})
}

func TestReach(t *testing.T) {
	t.Run("derived graphs reach everything from start", func(t *testing.T) {
		g := conditional(agent("a", 60), agent("b", 60, "a"))
		r := Reach(g)
		assert.Equal(t, types.NodeStart, r.Root)
		assert.Equal(t, []string{"a", "b"}, r.Reachable)
		assert.Empty(t, r.Unreachable)
	})

	t.Run("explicit graph with orphan", func(t *testing.T) {
		g := BuildGraph([]types.Agent{agent("a", 60), agent("b", 60), agent("c", 60)}, types.WorkflowConfig{
			Mode: types.ModeConditional,
			Graph: &types.GraphStructure{
				EntryPoint: "a",
				Edges: []types.Edge{
					{FromNode: "a", ToNode: "b", EdgeID: "1"},
					{FromNode: "c", ToNode: "b", EdgeID: "2"},
				},
			},
		})
		r := Reach(g)
		assert.Equal(t, "a", r.Root)
		assert.Equal(t, []string{"a", "b"}, r.Reachable)
		assert.Equal(t, []string{"c"}, r.Unreachable)
	})
}

func TestAnalyze_SkipsOrderingForCycles(t *testing.T) {
	a := Analyze(conditional(agent("a", 60, "b"), agent("b", 60, "a")))
	assert.True(t, a.Cycles.HasCycle)
	assert.Empty(t, a.Levels.Levels)
	assert.False(t, a.Levels.Complete)
	assert.Empty(t, a.CriticalPath.Nodes)

	b := Analyze(conditional(agent("a", 60), agent("b", 60, "a")))
	assert.False(t, b.Cycles.HasCycle)
	assert.True(t, b.Levels.Complete)
	assert.Equal(t, []string{"a", "b"}, b.CriticalPath.Nodes)
}
