package karakuri

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// EventType is the type of an event recorded in the task event log.
type EventType string

const (
	// EventMessage is a conversational message such as the user request that
	// triggers a task or the final summary emitted by the loop.
	EventMessage EventType = "message"

	// EventAction records that an operation was handed to a tool.
	EventAction EventType = "action"

	// EventObservation records the outcome of one operation.
	EventObservation EventType = "observation"

	// EventPlan carries a snapshot of the execution plan.
	EventPlan EventType = "plan"

	// EventKnowledge carries distilled context such as a digest of older
	// events.
	EventKnowledge EventType = "knowledge"
)

// Event is one immutable entry of a task's event log. IDs are assigned by the
// log on append and are monotonic within a task; append order is read order.
type Event struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"task_id"`
	Type      EventType       `json:"type"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// Clone returns a deep copy. Stores hand out clones so that a reader can
// never mutate the log.
func (x *Event) Clone() *Event {
	if x == nil {
		return nil
	}
	c := *x
	if x.Content != nil {
		c.Content = make(json.RawMessage, len(x.Content))
		copy(c.Content, x.Content)
	}
	return &c
}

// MessageContent is the payload of an EventMessage event.
type MessageContent struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// ActionContent is the payload of an EventAction event.
type ActionContent struct {
	StepID    string         `json:"step_id"`
	OpID      string         `json:"op_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ObservationContent is the payload of an EventObservation event.
type ObservationContent struct {
	StepID string         `json:"step_id"`
	OpID   string         `json:"op_id"`
	Tool   string         `json:"tool"`
	Status OutcomeStatus  `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PlanContent is the payload of an EventPlan event. It embeds the same
// versioned snapshot produced by ExecutionPlan.Serialize.
type PlanContent struct {
	PlanID   string          `json:"plan_id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// KnowledgeContent is the payload of an EventKnowledge event.
type KnowledgeContent struct {
	Topic string `json:"topic"`
	Text  string `json:"text"`
	// SourceUpTo is the last event ID covered by this knowledge entry.
	SourceUpTo int64 `json:"source_up_to,omitempty"`
}

func decodeContent[T any](e *Event, want EventType) (*T, error) {
	if e.Type != want {
		return nil, goerr.Wrap(ErrInvalidParameter, "event type mismatch",
			goerr.V("want", want), goerr.V("got", e.Type))
	}
	var c T
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, goerr.Wrap(err, "failed to decode event content", goerr.V("event_id", e.ID))
	}
	return &c, nil
}

// Message decodes the payload of an EventMessage event.
func (x *Event) Message() (*MessageContent, error) {
	return decodeContent[MessageContent](x, EventMessage)
}

// Action decodes the payload of an EventAction event.
func (x *Event) Action() (*ActionContent, error) {
	return decodeContent[ActionContent](x, EventAction)
}

// Observation decodes the payload of an EventObservation event.
func (x *Event) Observation() (*ObservationContent, error) {
	return decodeContent[ObservationContent](x, EventObservation)
}

// Plan decodes the payload of an EventPlan event.
func (x *Event) Plan() (*PlanContent, error) {
	return decodeContent[PlanContent](x, EventPlan)
}

// Knowledge decodes the payload of an EventKnowledge event.
func (x *Event) Knowledge() (*KnowledgeContent, error) {
	return decodeContent[KnowledgeContent](x, EventKnowledge)
}
