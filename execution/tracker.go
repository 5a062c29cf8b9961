package execution

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// TransitionListener observes state changes after they are published.
type TransitionListener func(executionID string, tr Transition)

// Tracker is the state machine of one execution. Every applied event
// produces a new State that is published atomically, so Snapshot never
// observes a partially applied event.
//
// A Tracker expects a single writer (the stream consumer); the internal
// mutex only keeps Cancel and ResolveIntervention from other goroutines
// consistent with it.
type Tracker struct {
	id     string
	state  atomic.Pointer[State]
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time

	listeners []TransitionListener
	onCancel  []func()

	done     chan struct{}
	doneOnce sync.Once
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithListener registers a transition listener at construction.
func WithListener(fn TransitionListener) TrackerOption {
	return func(t *Tracker) {
		t.listeners = append(t.listeners, fn)
	}
}

// NewTracker creates a tracker in the pending state.
func NewTracker(executionID string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		id:     executionID,
		logger: zap.NewNop(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "execution_tracker"), zap.String("execution_id", executionID))
	t.state.Store(NewState(executionID))
	return t
}

// ID returns the execution id.
func (t *Tracker) ID() string { return t.id }

// Snapshot returns the current immutable state.
func (t *Tracker) Snapshot() *State { return t.state.Load() }

// Status returns the current workflow status.
func (t *Tracker) Status() WorkflowStatus { return t.state.Load().Status }

// Done is closed once the workflow reaches a terminal status.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// OnTransition registers a listener for subsequent transitions.
func (t *Tracker) OnTransition(fn TransitionListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// OnCancel registers a hook run once when the execution is cancelled.
func (t *Tracker) OnCancel(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCancel = append(t.onCancel, fn)
}

// changeSet collects the transitions produced by one update.
type changeSet struct {
	at          time.Time
	event       EventType
	transitions []Transition
}

func (c *changeSet) workflow(from, to WorkflowStatus) {
	c.transitions = append(c.transitions, Transition{
		Kind: TransitionWorkflow, From: string(from), To: string(to), Event: c.event, At: c.at,
	})
}

func (c *changeSet) agent(id string, from, to AgentStatus) {
	c.transitions = append(c.transitions, Transition{
		Kind: TransitionAgent, AgentID: id, From: string(from), To: string(to), Event: c.event, At: c.at,
	})
}

func (c *changeSet) intervention(pi PendingIntervention, from, to string) {
	tr := Transition{
		Kind: TransitionIntervention, AgentID: pi.AgentID, InterventionID: pi.InterventionID,
		From: from, To: to, Event: c.event, At: c.at,
	}
	if to == "pending" {
		tr.Intervention = &pi
	}
	c.transitions = append(c.transitions, tr)
}

// update applies fn to a copy of the current state and publishes the result.
// Listeners run after the new state is visible.
func (t *Tracker) update(event EventType, fn func(s *State, cs *changeSet) error) error {
	t.mu.Lock()
	cur := t.state.Load()
	cs := &changeSet{at: t.now(), event: event}
	next := cur.clone()
	if err := fn(next, cs); err != nil {
		t.mu.Unlock()
		return err
	}
	next.Version = cur.Version + 1
	if len(cs.transitions) > 0 {
		next.History = append(next.History, cs.transitions...)
	}
	t.state.Store(next)

	listeners := append([]TransitionListener(nil), t.listeners...)
	var cancelHooks []func()
	if next.Status == WorkflowCancelled && cur.Status != WorkflowCancelled {
		cancelHooks = append(cancelHooks, t.onCancel...)
	}
	t.mu.Unlock()

	for _, tr := range cs.transitions {
		for _, fn := range listeners {
			fn(t.id, tr)
		}
	}
	for _, fn := range cancelHooks {
		fn()
	}
	if next.Status.Terminal() {
		t.doneOnce.Do(func() { close(t.done) })
	}
	return nil
}

// Apply folds one streaming event into the state. Events that cannot be
// applied are logged and reported with INVALID_TRANSITION; events arriving
// after a terminal status are reported with EXECUTION_TERMINAL. Neither
// changes the state.
func (t *Tracker) Apply(ev Event) error {
	err := t.update(ev.Type, func(s *State, cs *changeSet) error {
		if s.Status.Terminal() {
			return types.Errorf(types.ErrExecutionTerminal, "execution %s is %s", t.id, s.Status)
		}
		if !ev.Timestamp.IsZero() {
			s.LastEventAt = ev.Timestamp
		} else {
			s.LastEventAt = cs.at
		}
		return t.apply(s, cs, ev)
	})
	if err != nil && types.IsErrorCode(err, types.ErrInvalidTransition) {
		t.logger.Warn("event ignored",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
	}
	return err
}

func (t *Tracker) apply(s *State, cs *changeSet, ev Event) error {
	switch p := ev.Payload.(type) {
	case ConnectionEstablished:
		s.ConnectionID = p.ConnectionID
		if s.ConnectionID == "" {
			s.ConnectionID = ev.ConnectionID
		}
		s.Connected = true
	case AgentStarted:
		startWorkflow(s, cs)
		return startAgent(s, cs, p.AgentID, p.AgentName)
	case AgentResult:
		startWorkflow(s, cs)
		applyResult(s, cs, p)
	case ExecutionStatusUpdate:
		return applyStatus(s, cs, p)
	case ParallelProgress:
		startWorkflow(s, cs)
		s.Progress = &Progress{
			Completed: p.Completed,
			Failed:    p.Failed,
			Total:     p.Total,
			Running:   append([]string(nil), p.Running...),
		}
	case ExecutionCompleted:
		finish(s, cs, WorkflowCompleted, p.Totals)
		s.Result = append([]byte(nil), p.Result...)
	case ExecutionError:
		finish(s, cs, WorkflowFailed, p.Totals)
		s.Error = p.Error
	case InterventionRequired:
		startWorkflow(s, cs)
		return requireIntervention(s, cs, p)
	case Heartbeat:
	default:
		return types.Errorf(types.ErrInvalidTransition, "unsupported event %T", ev.Payload)
	}
	return nil
}

func startWorkflow(s *State, cs *changeSet) {
	if s.Status != WorkflowPending {
		return
	}
	s.Status = WorkflowRunning
	at := cs.at
	s.StartedAt = &at
	cs.workflow(WorkflowPending, WorkflowRunning)
}

func agentOf(s *State, id string) AgentState {
	a, ok := s.Agents[id]
	if !ok {
		a = AgentState{AgentID: id, Status: AgentPending}
	}
	return a
}

func startAgent(s *State, cs *changeSet, id, name string) error {
	a := agentOf(s, id)
	if name != "" {
		a.AgentName = name
	}
	switch {
	case a.Status == AgentRunning:
		s.Agents[id] = a
		return nil
	case !a.Status.CanTransition(AgentRunning):
		return types.Errorf(types.ErrInvalidTransition, "agent %s cannot start from %s", id, a.Status)
	}
	if a.Status == AgentWaitingIntervention {
		// resumed by the server, the response was handled elsewhere
		dropInterventions(s, cs, id, AgentRunning)
	}
	cs.agent(id, a.Status, AgentRunning)
	a.Status = AgentRunning
	if a.StartedAt == nil {
		at := cs.at
		a.StartedAt = &at
	}
	s.CurrentAgent = id
	s.Agents[id] = a
	return nil
}

// applyResult records an agent's outcome. The first result for an agent is
// authoritative whatever state the agent was last seen in, since agent_started
// may have been lost during a disconnect. Later results for the same agent only
// refresh displayed fields.
func applyResult(s *State, cs *changeSet, p AgentResult) {
	a := agentOf(s, p.AgentID)
	if p.AgentName != "" {
		a.AgentName = p.AgentName
	}
	if a.Status != p.Status {
		cs.agent(p.AgentID, a.Status, p.Status)
	}
	if p.Status != AgentWaitingIntervention {
		dropInterventions(s, cs, p.AgentID, p.Status)
	}
	a.Status = p.Status
	a.Output = p.Output
	a.Error = p.Error
	a.Cost = p.Cost
	a.Tokens = p.Tokens
	a.DurationMs = p.DurationMs
	if a.FinishedAt == nil {
		at := cs.at
		a.FinishedAt = &at
	}
	s.Agents[p.AgentID] = a

	if s.Counted[p.AgentID] {
		return
	}
	s.Counted[p.AgentID] = true
	s.TotalCost += p.Cost
	s.TotalTokens += p.Tokens
}

func applyStatus(s *State, cs *changeSet, p ExecutionStatusUpdate) error {
	if p.CurrentAgent != "" {
		s.CurrentAgent = p.CurrentAgent
	}
	if p.Message != "" {
		s.Message = p.Message
	}
	switch p.Status {
	case s.Status:
		return nil
	case WorkflowPending:
		return types.Errorf(types.ErrInvalidTransition, "execution cannot return to pending from %s", s.Status)
	case WorkflowRunning:
		startWorkflow(s, cs)
	default:
		finish(s, cs, p.Status, Totals{})
	}
	return nil
}

// finish moves the workflow to a terminal status. Reported totals replace the
// running sums; totals the server did not report keep the running value.
func finish(s *State, cs *changeSet, status WorkflowStatus, totals Totals) {
	cs.workflow(s.Status, status)
	s.Status = status
	at := cs.at
	s.FinishedAt = &at
	if totals.TotalCost != nil {
		s.TotalCost = *totals.TotalCost
	}
	if totals.TotalTokens != nil {
		s.TotalTokens = *totals.TotalTokens
	}
	if totals.DurationMs != nil {
		s.DurationMs = *totals.DurationMs
	} else if s.StartedAt != nil {
		s.DurationMs = at.Sub(*s.StartedAt).Milliseconds()
	}
}

func requireIntervention(s *State, cs *changeSet, p InterventionRequired) error {
	if _, ok := s.Interventions[p.InterventionID]; ok {
		return nil
	}
	a := agentOf(s, p.AgentID)
	if a.Status == AgentPending {
		// The agent must have started for the server to pause it.
		cs.agent(p.AgentID, AgentPending, AgentRunning)
		a.Status = AgentRunning
	}
	if !a.Status.CanTransition(AgentWaitingIntervention) {
		return types.Errorf(types.ErrInvalidTransition, "agent %s cannot wait for intervention from %s", p.AgentID, a.Status)
	}
	cs.agent(p.AgentID, a.Status, AgentWaitingIntervention)
	a.Status = AgentWaitingIntervention
	s.Agents[p.AgentID] = a

	pi := PendingIntervention{
		InterventionID:   p.InterventionID,
		AgentID:          p.AgentID,
		InterventionType: p.InterventionType,
		TimeoutAt:        p.TimeoutAt,
		Context:          p.Context,
		CreatedAt:        cs.at,
	}
	s.Interventions[p.InterventionID] = pi
	cs.intervention(pi, "", "pending")
	return nil
}

// dropInterventions removes the pending interventions of an agent that has
// moved on without a local response.
func dropInterventions(s *State, cs *changeSet, agentID string, next AgentStatus) {
	for _, pi := range s.PendingInterventions() {
		if pi.AgentID != agentID {
			continue
		}
		delete(s.Interventions, pi.InterventionID)
		cs.intervention(pi, "pending", string(next))
	}
}

// ResolveIntervention removes a pending intervention and moves its agent to
// next (running or failed). Unknown ids are a no-op. It fails with
// EXECUTION_TERMINAL once the workflow is terminal and leaves the entry in place.
func (t *Tracker) ResolveIntervention(interventionID string, next AgentStatus) error {
	if next != AgentRunning && next != AgentFailed {
		return types.Errorf(types.ErrInvalidRequest, "intervention cannot move an agent to %s", next)
	}
	return t.update("", func(s *State, cs *changeSet) error {
		if s.Status.Terminal() {
			return types.Errorf(types.ErrExecutionTerminal, "execution %s is %s", t.id, s.Status)
		}
		pi, ok := s.Interventions[interventionID]
		if !ok {
			return nil
		}
		delete(s.Interventions, interventionID)
		cs.intervention(pi, "pending", string(next))

		a := agentOf(s, pi.AgentID)
		if a.Status == AgentWaitingIntervention {
			cs.agent(pi.AgentID, a.Status, next)
			a.Status = next
			s.Agents[pi.AgentID] = a
		}
		return nil
	})
}

// Cancel marks the execution cancelled and runs the cancel hooks. Agent
// states are left as last observed.
func (t *Tracker) Cancel() error {
	err := t.update("", func(s *State, cs *changeSet) error {
		if s.Status.Terminal() {
			return types.Errorf(types.ErrExecutionTerminal, "execution %s is %s", t.id, s.Status)
		}
		cs.workflow(s.Status, WorkflowCancelled)
		s.Status = WorkflowCancelled
		at := cs.at
		s.FinishedAt = &at
		return nil
	})
	if err == nil {
		t.logger.Info("execution cancelled")
	}
	return err
}

// SetConnected records the transport state without touching the workflow.
func (t *Tracker) SetConnected(connected bool) {
	_ = t.update("", func(s *State, _ *changeSet) error {
		s.Connected = connected
		return nil
	})
}

// Hydrate replaces the tracked state with a server snapshot. Agents that are
// already finished in the snapshot count as included in its totals.
// Interventions that appear or disappear with the snapshot are reported as
// intervention transitions.
func (t *Tracker) Hydrate(snapshot *State) error {
	if snapshot == nil {
		return types.NewError(types.ErrInvalidRequest, "nil snapshot")
	}
	return t.update("", func(s *State, cs *changeSet) error {
		if s.Status.Terminal() {
			return types.Errorf(types.ErrExecutionTerminal, "execution %s is %s", t.id, s.Status)
		}
		h := snapshot.clone()
		if !h.Status.Valid() {
			return types.Errorf(types.ErrInvalidRequest, "snapshot status %q", h.Status)
		}
		if h.Status != s.Status {
			cs.workflow(s.Status, h.Status)
		}
		for _, id := range h.AgentIDs() {
			a := h.Agents[id]
			prev := agentOf(s, id)
			if prev.Status != a.Status {
				cs.agent(id, prev.Status, a.Status)
			}
			if a.Status.Terminal() {
				h.Counted[id] = true
			}
		}

		for _, pi := range s.PendingInterventions() {
			if _, ok := h.Interventions[pi.InterventionID]; !ok {
				cs.intervention(pi, "pending", string(agentOf(h, pi.AgentID).Status))
			}
		}
		for _, pi := range h.PendingInterventions() {
			if _, ok := s.Interventions[pi.InterventionID]; !ok {
				cs.intervention(pi, "", "pending")
			}
		}

		h.ExecutionID = t.id
		h.ConnectionID = s.ConnectionID
		h.Connected = s.Connected
		h.History = s.History
		if h.LastEventAt.Before(s.LastEventAt) {
			h.LastEventAt = s.LastEventAt
		}
		*s = *h
		return nil
	})
}
