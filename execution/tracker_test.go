package execution

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	now := t0
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func ev(p Payload) Event { return NewEvent(p, time.Time{}) }

func ptr[T any](v T) *T { return &v }

func TestTracker_HappyPath(t *testing.T) {
	tr := NewTracker("exec-1", WithClock(fixedClock()))
	assert.Equal(t, WorkflowPending, tr.Status())

	require.NoError(t, tr.Apply(ev(ConnectionEstablished{ConnectionID: "conn-1"})))
	require.NoError(t, tr.Apply(ev(ExecutionStatusUpdate{Status: WorkflowRunning})))
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a", AgentName: "A"})))
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "a", Status: AgentCompleted, Cost: 0.5, Tokens: 100})))
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "b"})))
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "b", Status: AgentFailed, Error: "boom", Cost: 0.25, Tokens: 50})))

	s := tr.Snapshot()
	assert.Equal(t, "conn-1", s.ConnectionID)
	assert.True(t, s.Connected)
	assert.Equal(t, WorkflowRunning, s.Status)
	assert.InDelta(t, 0.75, s.TotalCost, 1e-9)
	assert.Equal(t, 150, s.TotalTokens)
	assert.Equal(t, AgentCompleted, s.Agents["a"].Status)
	assert.Equal(t, "A", s.Agents["a"].AgentName)
	assert.Equal(t, AgentFailed, s.Agents["b"].Status)

	require.NoError(t, tr.Apply(ev(ExecutionCompleted{
		Totals: Totals{TotalCost: ptr(2.0), TotalTokens: ptr(400)},
		Result: json.RawMessage(`{"ok":true}`),
	})))

	s = tr.Snapshot()
	assert.Equal(t, WorkflowCompleted, s.Status)
	assert.Equal(t, 2.0, s.TotalCost)
	assert.Equal(t, 400, s.TotalTokens)
	assert.JSONEq(t, `{"ok":true}`, string(s.Result))

	select {
	case <-tr.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestTracker_DuplicateResultCountsOnce(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))

	result := AgentResult{AgentID: "a", Status: AgentCompleted, Cost: 1.5, Tokens: 300}
	require.NoError(t, tr.Apply(ev(result)))

	result.Output = "refreshed"
	require.NoError(t, tr.Apply(ev(result)))

	s := tr.Snapshot()
	assert.Equal(t, 1.5, s.TotalCost)
	assert.Equal(t, 300, s.TotalTokens)
	assert.Equal(t, "refreshed", s.Agents["a"].Output)
}

func TestTracker_TerminalTotalsAreAuthoritative(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "a", Status: AgentCompleted, Cost: 1, Tokens: 10})))

	// cost reported, tokens not: running token sum is kept
	require.NoError(t, tr.Apply(ev(ExecutionError{Totals: Totals{TotalCost: ptr(3.0)}, Error: "agent b failed"})))

	s := tr.Snapshot()
	assert.Equal(t, WorkflowFailed, s.Status)
	assert.Equal(t, 3.0, s.TotalCost)
	assert.Equal(t, 10, s.TotalTokens)
	assert.Equal(t, "agent b failed", s.Error)
}

func TestTracker_TerminalIsFinal(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(ExecutionCompleted{})))
	version := tr.Snapshot().Version

	err := tr.Apply(ev(AgentStarted{AgentID: "a"}))
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionTerminal))
	err = tr.Apply(ev(Heartbeat{}))
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionTerminal))
	assert.True(t, types.IsErrorCode(tr.Cancel(), types.ErrExecutionTerminal))

	assert.Equal(t, version, tr.Snapshot().Version)
	assert.Equal(t, WorkflowCompleted, tr.Status())
}

func TestTracker_InvalidTransitionLeavesStateUntouched(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "a", Status: AgentCompleted})))
	before := tr.Snapshot()

	err := tr.Apply(ev(AgentStarted{AgentID: "a"}))
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
	assert.Same(t, before, tr.Snapshot())

	err = tr.Apply(ev(ExecutionStatusUpdate{Status: WorkflowPending}))
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
	assert.Same(t, before, tr.Snapshot())
}

func TestTracker_CancelLeavesAgentsAsObserved(t *testing.T) {
	tr := NewTracker("exec-1")
	var hooks int
	tr.OnCancel(func() { hooks++ })

	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
	require.NoError(t, tr.Cancel())

	s := tr.Snapshot()
	assert.Equal(t, WorkflowCancelled, s.Status)
	assert.Equal(t, AgentRunning, s.Agents["a"].Status)
	assert.Equal(t, 1, hooks)
	assert.NotNil(t, s.FinishedAt)

	assert.Error(t, tr.Cancel())
	assert.Equal(t, 1, hooks)
}

func TestTracker_HeartbeatOnlyTouchesLastEvent(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
	before := tr.Snapshot()

	at := t0.Add(time.Hour)
	require.NoError(t, tr.Apply(NewEvent(Heartbeat{}, at)))

	after := tr.Snapshot()
	assert.Equal(t, at, after.LastEventAt)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Agents, after.Agents)
	assert.Equal(t, before.History, after.History)
}

func TestTracker_InterventionLifecycle(t *testing.T) {
	tr := NewTracker("exec-1", WithClock(fixedClock()))
	var seen []Transition
	tr.OnTransition(func(_ string, tr Transition) { seen = append(seen, tr) })

	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
	req := InterventionRequired{InterventionID: "i-1", AgentID: "a", InterventionType: "approval", TimeoutAt: t0.Add(time.Hour)}
	require.NoError(t, tr.Apply(ev(req)))
	// redelivery after reconnect
	require.NoError(t, tr.Apply(ev(req)))

	s := tr.Snapshot()
	assert.Equal(t, AgentWaitingIntervention, s.Agents["a"].Status)
	require.Len(t, s.PendingInterventions(), 1)

	require.NoError(t, tr.ResolveIntervention("i-1", AgentRunning))
	require.NoError(t, tr.ResolveIntervention("i-1", AgentRunning))

	s = tr.Snapshot()
	assert.Empty(t, s.Interventions)
	assert.Equal(t, AgentRunning, s.Agents["a"].Status)

	var kinds []TransitionKind
	for _, tr := range seen {
		kinds = append(kinds, tr.Kind)
	}
	assert.Equal(t, []TransitionKind{
		TransitionWorkflow, TransitionAgent,
		TransitionAgent, TransitionIntervention,
		TransitionIntervention, TransitionAgent,
	}, kinds)
	require.NotNil(t, seen[3].Intervention)
	assert.Equal(t, "approval", seen[3].Intervention.InterventionType)
}

func TestTracker_ServerResumeDropsIntervention(t *testing.T) {
	tests := []struct {
		name   string
		resume Payload
		next   AgentStatus
	}{
		{"agent restarted", AgentStarted{AgentID: "a"}, AgentRunning},
		{"agent result", AgentResult{AgentID: "a", Status: AgentCompleted}, AgentCompleted},
		{"agent failed", AgentResult{AgentID: "a", Status: AgentFailed, Error: "rejected"}, AgentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("exec-1")
			require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
			require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "b"})))
			require.NoError(t, tr.Apply(ev(InterventionRequired{InterventionID: "i-1", AgentID: "a"})))
			require.NoError(t, tr.Apply(ev(InterventionRequired{InterventionID: "i-2", AgentID: "b"})))

			var dropped []Transition
			tr.OnTransition(func(_ string, x Transition) {
				if x.Kind == TransitionIntervention {
					dropped = append(dropped, x)
				}
			})
			require.NoError(t, tr.Apply(ev(tt.resume)))

			s := tr.Snapshot()
			assert.Equal(t, tt.next, s.Agents["a"].Status)
			assert.NotContains(t, s.Interventions, "i-1")
			assert.Contains(t, s.Interventions, "i-2")

			require.Len(t, dropped, 1)
			assert.Equal(t, "i-1", dropped[0].InterventionID)
			assert.Equal(t, "pending", dropped[0].From)
			assert.Equal(t, string(tt.next), dropped[0].To)
			assert.Nil(t, dropped[0].Intervention)
		})
	}
}

func TestTracker_ResumeThenResult(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
	require.NoError(t, tr.Apply(ev(InterventionRequired{InterventionID: "iv-1", AgentID: "a"})))
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "a", Status: AgentCompleted})))

	s := tr.Snapshot()
	assert.Equal(t, AgentCompleted, s.Agents["a"].Status)
	assert.Empty(t, s.Interventions)
	assert.Empty(t, s.PendingInterventions())
}

func TestTracker_HydrateReportsInterventions(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(AgentStarted{AgentID: "a"})))
	require.NoError(t, tr.Apply(ev(InterventionRequired{InterventionID: "i-old", AgentID: "a"})))

	var seen []Transition
	tr.OnTransition(func(_ string, x Transition) {
		if x.Kind == TransitionIntervention {
			seen = append(seen, x)
		}
	})

	snap := NewState("exec-1")
	snap.Status = WorkflowRunning
	snap.Agents["a"] = AgentState{AgentID: "a", Status: AgentRunning}
	snap.Agents["b"] = AgentState{AgentID: "b", Status: AgentWaitingIntervention}
	snap.Interventions["i-new"] = PendingIntervention{InterventionID: "i-new", AgentID: "b", InterventionType: "approval"}
	require.NoError(t, tr.Hydrate(snap))

	require.Len(t, seen, 2)
	assert.Equal(t, "i-old", seen[0].InterventionID)
	assert.Equal(t, "running", seen[0].To)
	assert.Nil(t, seen[0].Intervention)
	assert.Equal(t, "i-new", seen[1].InterventionID)
	assert.Equal(t, "pending", seen[1].To)
	require.NotNil(t, seen[1].Intervention)
	assert.Equal(t, "approval", seen[1].Intervention.InterventionType)
}

func TestTracker_ResolveAfterTerminalKeepsEntry(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(InterventionRequired{InterventionID: "i-1", AgentID: "a"})))
	require.NoError(t, tr.Apply(ev(ExecutionError{Error: "timeout"})))

	err := tr.ResolveIntervention("i-1", AgentFailed)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionTerminal))
	assert.Contains(t, tr.Snapshot().Interventions, "i-1")

	err = tr.ResolveIntervention("i-1", AgentCompleted)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestTracker_Hydrate(t *testing.T) {
	tr := NewTracker("exec-1")
	require.NoError(t, tr.Apply(ev(ConnectionEstablished{ConnectionID: "conn-1"})))

	snap := NewState("ignored")
	snap.Status = WorkflowRunning
	snap.Agents["a"] = AgentState{AgentID: "a", Status: AgentCompleted, Cost: 1, Tokens: 10}
	snap.Agents["b"] = AgentState{AgentID: "b", Status: AgentRunning}
	snap.TotalCost = 1
	snap.TotalTokens = 10
	require.NoError(t, tr.Hydrate(snap))

	s := tr.Snapshot()
	assert.Equal(t, "exec-1", s.ExecutionID)
	assert.Equal(t, "conn-1", s.ConnectionID)
	assert.True(t, s.Counted["a"])
	assert.False(t, s.Counted["b"])

	// the hydrated result for a must not be counted again
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "a", Status: AgentCompleted, Cost: 1, Tokens: 10})))
	require.NoError(t, tr.Apply(ev(AgentResult{AgentID: "b", Status: AgentCompleted, Cost: 2, Tokens: 20})))
	assert.Equal(t, 3.0, tr.Snapshot().TotalCost)
	assert.Equal(t, 30, tr.Snapshot().TotalTokens)

	// the caller's snapshot is not shared
	assert.NotContains(t, snap.Counted, "a")
	assert.Error(t, tr.Hydrate(nil))
}

func TestTracker_ConcurrentReadersSeeWholeEvents(t *testing.T) {
	tr := NewTracker("exec-1")
	const agents = 200

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := tr.Snapshot()
			// every counted agent contributed exactly one token
			if s.TotalTokens != len(s.Counted) {
				t.Errorf("torn snapshot: %d tokens for %d agents", s.TotalTokens, len(s.Counted))
				return
			}
		}
	}()

	for i := 0; i < agents; i++ {
		id := "agent-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		require.NoError(t, tr.Apply(ev(AgentResult{AgentID: id, Status: AgentCompleted, Tokens: 1})))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, agents, tr.Snapshot().TotalTokens)
}

func TestProperty_AgentResultIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("re-applying an agent_result adds its contribution once", prop.ForAll(
		func(costs []float64, tokens []int, repeats int) bool {
			n := len(costs)
			if len(tokens) < n {
				n = len(tokens)
			}
			tr := NewTracker("exec-prop")
			var wantCost float64
			var wantTokens int
			for i := 0; i < n; i++ {
				id := string(rune('a' + i))
				res := AgentResult{AgentID: id, Status: AgentCompleted, Cost: costs[i], Tokens: tokens[i]}
				for r := 0; r <= repeats; r++ {
					if err := tr.Apply(ev(res)); err != nil {
						return false
					}
				}
				wantCost += costs[i]
				wantTokens += tokens[i]
			}
			s := tr.Snapshot()
			return s.TotalTokens == wantTokens && s.TotalCost == wantCost
		},
		gen.SliceOfN(8, gen.Float64Range(0, 10)),
		gen.SliceOfN(8, gen.IntRange(0, 5000)),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
