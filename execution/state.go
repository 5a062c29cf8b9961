package execution

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// WorkflowStatus is the lifecycle state of one execution.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// AgentStatus is the lifecycle state of one agent inside an execution.
type AgentStatus string

const (
	AgentPending             AgentStatus = "pending"
	AgentRunning             AgentStatus = "running"
	AgentCompleted           AgentStatus = "completed"
	AgentFailed              AgentStatus = "failed"
	AgentWaitingIntervention AgentStatus = "waiting_intervention"
)

// agentTransitions lists the allowed next states per agent state.
var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentPending:             {AgentRunning},
	AgentRunning:             {AgentCompleted, AgentFailed, AgentWaitingIntervention},
	AgentWaitingIntervention: {AgentRunning, AgentFailed},
}

// CanTransition reports whether an agent may move from s to next.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	return slices.Contains(agentTransitions[s], next)
}

// Terminal reports whether the agent has finished.
func (s AgentStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed
}

// AgentState is the last observed state of one agent.
type AgentState struct {
	AgentID    string      `json:"agent_id"`
	AgentName  string      `json:"agent_name,omitempty"`
	Status     AgentStatus `json:"status"`
	Output     string      `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Cost       float64     `json:"cost"`
	Tokens     int         `json:"tokens"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// PendingIntervention is an intervention the tracker has seen but not resolved.
type PendingIntervention struct {
	InterventionID   string         `json:"intervention_id"`
	AgentID          string         `json:"agent_id"`
	InterventionType string         `json:"intervention_type"`
	TimeoutAt        time.Time      `json:"timeout_at"`
	Context          map[string]any `json:"context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Progress mirrors the latest parallel_progress event.
type Progress struct {
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Total     int      `json:"total"`
	Running   []string `json:"running,omitempty"`
}

// State is an immutable snapshot of one execution. Callers must not modify
// the maps or slices of a State returned by a Tracker.
type State struct {
	ExecutionID   string                         `json:"execution_id"`
	Status        WorkflowStatus                 `json:"status"`
	CurrentAgent  string                         `json:"current_agent,omitempty"`
	Message       string                         `json:"message,omitempty"`
	Agents        map[string]AgentState          `json:"agents"`
	TotalCost     float64                        `json:"total_cost"`
	TotalTokens   int                            `json:"total_tokens"`
	DurationMs    int64                          `json:"duration_ms,omitempty"`
	Result        json.RawMessage                `json:"result,omitempty"`
	Error         string                         `json:"error,omitempty"`
	Counted       map[string]bool                `json:"counted,omitempty"`
	Interventions map[string]PendingIntervention `json:"interventions,omitempty"`
	Progress      *Progress                      `json:"progress,omitempty"`
	ConnectionID  string                         `json:"connection_id,omitempty"`
	Connected     bool                           `json:"connected"`
	LastEventAt   time.Time                      `json:"last_event_at,omitempty"`
	StartedAt     *time.Time                     `json:"started_at,omitempty"`
	FinishedAt    *time.Time                     `json:"finished_at,omitempty"`
	History       []Transition                   `json:"history,omitempty"`
	Version       uint64                         `json:"version"`
}

// NewState returns the initial pending state.
func NewState(executionID string) *State {
	return &State{
		ExecutionID:   executionID,
		Status:        WorkflowPending,
		Agents:        make(map[string]AgentState),
		Counted:       make(map[string]bool),
		Interventions: make(map[string]PendingIntervention),
	}
}

// Agent returns the state of one agent.
func (s *State) Agent(id string) (AgentState, bool) {
	a, ok := s.Agents[id]
	return a, ok
}

// AgentIDs returns the known agent ids in sorted order.
func (s *State) AgentIDs() []string {
	return slices.Sorted(maps.Keys(s.Agents))
}

// PendingInterventions returns the unresolved interventions ordered by
// creation time, then id.
func (s *State) PendingInterventions() []PendingIntervention {
	out := slices.Collect(maps.Values(s.Interventions))
	slices.SortFunc(out, func(a, b PendingIntervention) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.InterventionID < b.InterventionID {
			return -1
		}
		if a.InterventionID > b.InterventionID {
			return 1
		}
		return 0
	})
	return out
}

// clone makes a deep enough copy for copy-on-write updates.
func (s *State) clone() *State {
	c := *s
	c.Agents = maps.Clone(s.Agents)
	c.Counted = maps.Clone(s.Counted)
	c.Interventions = maps.Clone(s.Interventions)
	if c.Agents == nil {
		c.Agents = make(map[string]AgentState)
	}
	if c.Counted == nil {
		c.Counted = make(map[string]bool)
	}
	if c.Interventions == nil {
		c.Interventions = make(map[string]PendingIntervention)
	}
	c.History = slices.Clip(s.History)
	if s.Progress != nil {
		p := *s.Progress
		p.Running = slices.Clone(s.Progress.Running)
		c.Progress = &p
	}
	return &c
}
