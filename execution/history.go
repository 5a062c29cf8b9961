package execution

import (
	"time"
)

// TransitionKind tells which state machine a Transition belongs to.
type TransitionKind string

const (
	TransitionWorkflow     TransitionKind = "workflow"
	TransitionAgent        TransitionKind = "agent"
	TransitionIntervention TransitionKind = "intervention"
)

// Transition records one state change observed by a Tracker.
type Transition struct {
	Kind           TransitionKind `json:"kind"`
	AgentID        string         `json:"agent_id,omitempty"`
	InterventionID string         `json:"intervention_id,omitempty"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Event          EventType      `json:"event,omitempty"`
	At             time.Time      `json:"at"`

	// Intervention is set on intervention transitions entering "pending".
	Intervention *PendingIntervention `json:"intervention,omitempty"`
}

// AgentRun is the timeline of a single agent derived from transitions.
type AgentRun struct {
	AgentID   string        `json:"agent_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    AgentStatus   `json:"status"`
	Waits     int           `json:"waits,omitempty"`
}

// Timeline folds the agent transitions of a snapshot into one run per agent,
// ordered by the time each agent was first seen.
func Timeline(history []Transition) []AgentRun {
	runs := make([]AgentRun, 0)
	index := make(map[string]int)

	for _, tr := range history {
		if tr.Kind != TransitionAgent {
			continue
		}
		i, ok := index[tr.AgentID]
		if !ok {
			i = len(runs)
			index[tr.AgentID] = i
			runs = append(runs, AgentRun{AgentID: tr.AgentID, StartTime: tr.At})
		}
		run := &runs[i]
		run.Status = AgentStatus(tr.To)
		switch run.Status {
		case AgentWaitingIntervention:
			run.Waits++
		case AgentCompleted, AgentFailed:
			run.EndTime = tr.At
			run.Duration = run.EndTime.Sub(run.StartTime)
		}
	}
	return runs
}

// FindRun returns the run of one agent, or nil.
func FindRun(runs []AgentRun, agentID string) *AgentRun {
	for i := range runs {
		if runs[i].AgentID == agentID {
			return &runs[i]
		}
	}
	return nil
}
