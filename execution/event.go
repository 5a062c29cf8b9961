package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// EventType tags a streaming event.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventAgentStarted          EventType = "agent_started"
	EventAgentResult           EventType = "agent_result"
	EventExecutionStatus       EventType = "execution_status"
	EventParallelProgress      EventType = "parallel_progress"
	EventExecutionCompleted    EventType = "execution_completed"
	EventExecutionError        EventType = "execution_error"
	EventInterventionRequired  EventType = "intervention_required"
	EventHeartbeat             EventType = "heartbeat"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventConnectionEstablished,
	EventAgentStarted,
	EventAgentResult,
	EventExecutionStatus,
	EventParallelProgress,
	EventExecutionCompleted,
	EventExecutionError,
	EventInterventionRequired,
	EventHeartbeat,
}

// Event is one message of an execution stream. Payload is always the
// variant matching Type.
type Event struct {
	Type         EventType
	Timestamp    time.Time
	ConnectionID string
	Payload      Payload
}

// Payload is the closed set of event variants.
type Payload interface {
	EventType() EventType
}

// ConnectionEstablished confirms the stream is open.
type ConnectionEstablished struct {
	ConnectionID string `json:"connection_id"`
	ExecutionID  string `json:"execution_id,omitempty"`
}

// AgentStarted reports that an agent began running.
type AgentStarted struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
}

// AgentResult reports the terminal outcome of one agent.
type AgentResult struct {
	AgentID    string      `json:"agent_id"`
	AgentName  string      `json:"agent_name,omitempty"`
	Status     AgentStatus `json:"status"`
	Output     string      `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Cost       float64     `json:"cost"`
	Tokens     int         `json:"tokens"`
	DurationMs int64       `json:"duration_ms,omitempty"`
}

// ExecutionStatusUpdate reports a workflow-level status change.
type ExecutionStatusUpdate struct {
	Status       WorkflowStatus `json:"status"`
	CurrentAgent string         `json:"current_agent,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// ParallelProgress reports fan-out progress.
type ParallelProgress struct {
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Total     int      `json:"total"`
	Running   []string `json:"running,omitempty"`
}

// Totals are the server's authoritative aggregates. Nil fields were not reported.
type Totals struct {
	TotalCost   *float64 `json:"total_cost,omitempty"`
	TotalTokens *int     `json:"total_tokens,omitempty"`
	DurationMs  *int64   `json:"duration_ms,omitempty"`
}

// ExecutionCompleted ends the execution successfully.
type ExecutionCompleted struct {
	Totals
	Result json.RawMessage `json:"result,omitempty"`
}

// ExecutionError ends the execution with a failure.
type ExecutionError struct {
	Totals
	Error   string `json:"error"`
	AgentID string `json:"agent_id,omitempty"`
}

// InterventionRequired pauses an agent for human review.
type InterventionRequired struct {
	InterventionID   string         `json:"intervention_id"`
	AgentID          string         `json:"agent_id"`
	InterventionType string         `json:"intervention_type"`
	TimeoutAt        time.Time      `json:"timeout_at"`
	Context          map[string]any `json:"context,omitempty"`
}

// Heartbeat carries no data; it only proves liveness.
type Heartbeat struct{}

func (ConnectionEstablished) EventType() EventType { return EventConnectionEstablished }
func (AgentStarted) EventType() EventType          { return EventAgentStarted }
func (AgentResult) EventType() EventType           { return EventAgentResult }
func (ExecutionStatusUpdate) EventType() EventType { return EventExecutionStatus }
func (ParallelProgress) EventType() EventType      { return EventParallelProgress }
func (ExecutionCompleted) EventType() EventType    { return EventExecutionCompleted }
func (ExecutionError) EventType() EventType        { return EventExecutionError }
func (InterventionRequired) EventType() EventType  { return EventInterventionRequired }
func (Heartbeat) EventType() EventType             { return EventHeartbeat }

// envelope is the wire shape: {type, data, timestamp, connection_id?}.
type envelope struct {
	Type         EventType       `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

// DecodeEvent parses one wire message. Unknown types, undecodable payloads
// and payloads missing their identifying field are MALFORMED_EVENT errors.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, types.NewError(types.ErrMalformedEvent, "invalid event envelope").WithCause(err)
	}

	payload, err := decodePayload(env.Type, env.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:         env.Type,
		Timestamp:    env.Timestamp,
		ConnectionID: env.ConnectionID,
		Payload:      payload,
	}, nil
}

func decodePayload(t EventType, data json.RawMessage) (Payload, error) {
	var (
		p       Payload
		missing string
	)
	switch t {
	case EventConnectionEstablished:
		var v ConnectionEstablished
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		p = v
	case EventAgentStarted:
		var v AgentStarted
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		if v.AgentID == "" {
			missing = "agent_id"
		}
		p = v
	case EventAgentResult:
		var v AgentResult
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		if v.AgentID == "" {
			missing = "agent_id"
		}
		if v.Status == "" {
			v.Status = AgentCompleted
			if v.Error != "" {
				v.Status = AgentFailed
			}
		}
		if v.Status != AgentCompleted && v.Status != AgentFailed {
			return nil, types.Errorf(types.ErrMalformedEvent, "%s: status must be completed or failed, got %q", t, v.Status)
		}
		p = v
	case EventExecutionStatus:
		var v ExecutionStatusUpdate
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		if !v.Status.Valid() {
			return nil, types.Errorf(types.ErrMalformedEvent, "%s: unknown status %q", t, v.Status)
		}
		p = v
	case EventParallelProgress:
		var v ParallelProgress
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		p = v
	case EventExecutionCompleted:
		var v ExecutionCompleted
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		p = v
	case EventExecutionError:
		var v ExecutionError
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		p = v
	case EventInterventionRequired:
		var v InterventionRequired
		if err := unmarshalData(data, &v); err != nil {
			return nil, malformed(t, err)
		}
		switch {
		case v.InterventionID == "":
			missing = "intervention_id"
		case v.AgentID == "":
			missing = "agent_id"
		}
		p = v
	case EventHeartbeat:
		p = Heartbeat{}
	default:
		return nil, types.Errorf(types.ErrMalformedEvent, "unknown event type %q", t)
	}

	if missing != "" {
		return nil, types.Errorf(types.ErrMalformedEvent, "%s: missing %s", t, missing)
	}
	return p, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func malformed(t EventType, err error) error {
	return types.Errorf(types.ErrMalformedEvent, "%s: invalid payload", t).WithCause(err)
}

// EncodeEvent produces the wire form of ev.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev.Payload == nil {
		return nil, fmt.Errorf("event %q has no payload", ev.Type)
	}
	t := ev.Type
	if t == "" {
		t = ev.Payload.EventType()
	}
	env := envelope{Type: t, Timestamp: ev.Timestamp, ConnectionID: ev.ConnectionID}
	if _, empty := ev.Payload.(Heartbeat); !empty {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// NewEvent wraps a payload with its type and timestamp.
func NewEvent(p Payload, at time.Time) Event {
	return Event{Type: p.EventType(), Timestamp: at, Payload: p}
}
