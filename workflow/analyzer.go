package workflow

import (
	"sort"

	"github.com/BaSui01/agentgraph/types"
)

// CycleReport is the result of cycle detection.
type CycleReport struct {
	HasCycle bool     `json:"has_cycle"`
	Nodes    []string `json:"nodes,omitempty"`
}

// Leveling is the result of topological leveling. Complete is false when a
// cycle left some nodes without a level.
type Leveling struct {
	Levels   [][]string     `json:"levels"`
	LevelOf  map[string]int `json:"level_of"`
	Complete bool           `json:"complete"`
}

// CriticalPath is the dependency chain with the greatest estimated duration.
type CriticalPath struct {
	Nodes         []string `json:"nodes"`
	LengthMinutes float64  `json:"length_minutes"`
}

// Reachability lists agent nodes reached from the graph root.
type Reachability struct {
	Root        string   `json:"root"`
	Reachable   []string `json:"reachable"`
	Unreachable []string `json:"unreachable,omitempty"`
}

// Analysis bundles every structural fact computed for a graph.
type Analysis struct {
	Cycles       CycleReport  `json:"cycles"`
	Levels       Leveling     `json:"levels"`
	CriticalPath CriticalPath `json:"critical_path"`
	Reachability Reachability `json:"reachability"`
}

// Analyze runs every analysis over g. Leveling and critical path are only
// computed for acyclic graphs.
func Analyze(g *Graph) Analysis {
	a := Analysis{
		Cycles:       DetectCycles(g),
		Reachability: Reach(g),
		Levels:       Leveling{LevelOf: map[string]int{}},
	}
	if !a.Cycles.HasCycle {
		a.Levels = TopologicalLevels(g)
		a.CriticalPath = FindCriticalPath(g)
	}
	return a
}

const (
	white = iota
	gray
	black
)

// DetectCycles runs a three-color depth-first search over agent edges. On a
// back-edge to a gray node every node on the current recursion stack is
// reported. Implicated nodes are returned in declaration order.
func DetectCycles(g *Graph) CycleReport {
	if g.IsEmpty() {
		return CycleReport{}
	}

	color := make(map[string]int, len(g.Nodes))
	inCycle := make(map[string]bool)
	var stack []string

	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)

		for _, next := range g.Successors(n) {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge
				for _, s := range stack {
					inCycle[s] = true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range g.Nodes {
		if color[n] == white {
			visit(n)
		}
	}

	report := CycleReport{HasCycle: len(inCycle) > 0}
	for _, n := range g.Nodes {
		if inCycle[n] {
			report.Nodes = append(report.Nodes, n)
		}
	}
	return report
}

// TopologicalLevels assigns levels with Kahn's algorithm. Nodes without
// dependencies sit at level 0; every other node sits one level after the
// last of its dependencies.
func TopologicalLevels(g *Graph) Leveling {
	result := Leveling{LevelOf: make(map[string]int, len(g.Nodes))}
	if g.IsEmpty() {
		result.Complete = true
		return result
	}

	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n] = len(g.Predecessors(n))
	}

	var current []string
	for _, n := range g.Nodes {
		if inDegree[n] == 0 {
			current = append(current, n)
		}
	}

	assigned := 0
	for level := 0; len(current) > 0; level++ {
		g.sortByPosition(current)
		result.Levels = append(result.Levels, current)

		var next []string
		for _, n := range current {
			result.LevelOf[n] = level
			assigned++
			for _, dep := range g.Successors(n) {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	result.Complete = assigned == len(g.Nodes)
	return result
}

// FindCriticalPath computes the longest dependency chain weighted by each
// agent's timeout in minutes. The chain ends at the heaviest node without
// dependents; ties prefer the dependency listed first. Returns an empty path
// for cyclic graphs.
func FindCriticalPath(g *Graph) CriticalPath {
	if g.IsEmpty() || DetectCycles(g).HasCycle {
		return CriticalPath{}
	}

	memo := make(map[string]float64, len(g.Nodes))
	var pathLength func(n string) float64
	pathLength = func(n string) float64 {
		if v, ok := memo[n]; ok {
			return v
		}
		longest := 0.0
		for _, dep := range g.Predecessors(n) {
			if l := pathLength(dep); l > longest {
				longest = l
			}
		}
		memo[n] = durationMinutes(g.Timeouts[n]) + longest
		return memo[n]
	}

	end := ""
	for _, n := range g.Nodes {
		if len(g.Successors(n)) > 0 {
			continue
		}
		if end == "" || pathLength(n) > pathLength(end) {
			end = n
		}
	}
	if end == "" {
		return CriticalPath{}
	}

	path := []string{end}
	for cur := end; ; {
		best := ""
		for _, dep := range g.Predecessors(cur) {
			if best == "" || pathLength(dep) > pathLength(best) {
				best = dep
			}
		}
		if best == "" {
			break
		}
		path = append(path, best)
		cur = best
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return CriticalPath{Nodes: path, LengthMinutes: pathLength(end)}
}

// Reach runs a breadth-first search from the entry point, or from the virtual
// start node when no entry point is configured, following edge direction.
func Reach(g *Graph) Reachability {
	root := types.NodeStart
	if g != nil && g.EntryPoint != "" {
		root = g.EntryPoint
	}
	result := Reachability{Root: root}
	if g.IsEmpty() {
		return result
	}

	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing[n] {
			if !visited[e.ToNode] {
				visited[e.ToNode] = true
				queue = append(queue, e.ToNode)
			}
		}
	}

	for _, n := range g.Nodes {
		if visited[n] {
			result.Reachable = append(result.Reachable, n)
		} else {
			result.Unreachable = append(result.Unreachable, n)
		}
	}
	return result
}

func durationMinutes(timeoutSeconds int) float64 {
	return float64(timeoutSeconds) / 60
}

func (g *Graph) sortByPosition(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.Position(ids[i]) < g.Position(ids[j])
	})
}
