package hooks

import "github.com/tripwire-kernel/kernel/agentevent"

// EventType identifies the specific SystemEvent variant, per spec.md §6's taxonomy.
type EventType string

const (
	EventAgentEvent   EventType = "AGENT_EVENT"
	EventStateChange  EventType = "STATE_CHANGE"
	EventIntent       EventType = "INTENT"
	EventExecution    EventType = "EXECUTION"
	EventHealthChange EventType = "HEALTH_CHANGE"
	EventError        EventType = "ERROR"
)

// Event is the interface every SystemEvent variant implements. Subscribers type-switch on
// the concrete type to access event-specific fields; Type() lets them filter without doing
// so.
type Event interface {
	// Type returns the specific event variant.
	Type() EventType
	// Timestamp returns the millisecond time the event was produced.
	Timestamp() int64
}

// baseEvent holds the fields common to every SystemEvent variant.
type baseEvent struct {
	eventType EventType
	timestamp int64
}

func (b baseEvent) Type() EventType  { return b.eventType }
func (b baseEvent) Timestamp() int64 { return b.timestamp }

type (
	// AgentEventEvent fires once per AgentEvent processed by the pipeline.
	AgentEventEvent struct {
		baseEvent
		Event agentevent.AgentEvent
	}

	// StateChangeEvent fires when the activity classifier adopts a new (mode, intensity)
	// pair, distinct from the previous state.
	StateChangeEvent struct {
		baseEvent
		Previous agentevent.ActivityState
		Current  agentevent.ActivityState
	}

	// IntentEvent fires once per processed event, pairing the intent core's output with
	// the safety gate's resulting decision.
	IntentEvent struct {
		baseEvent
		Intent   agentevent.IntentDecision
		Decision agentevent.SafetyDecision
	}

	// ExecutionEvent fires once per processed event with the (possibly synthesized)
	// execution outcome.
	ExecutionEvent struct {
		baseEvent
		Result agentevent.ExecutionResult
	}

	// HealthChangeEvent records a transition of the safety gate's HealthState.Status.
	// pipeline.Pipeline never publishes it; only a host that tracks gate health does.
	HealthChangeEvent struct {
		baseEvent
		Previous agentevent.HealthState
		Current  agentevent.HealthState
	}

	// ErrorEvent fires when a pipeline stage suffers an internal fault and the pipeline
	// degrades defensively instead of propagating the error.
	ErrorEvent struct {
		baseEvent
		Component string
		Err       error
	}
)

// NewAgentEventEvent constructs an AgentEventEvent timestamped at ts.
func NewAgentEventEvent(ts int64, event agentevent.AgentEvent) *AgentEventEvent {
	return &AgentEventEvent{baseEvent: baseEvent{EventAgentEvent, ts}, Event: event}
}

// NewStateChangeEvent constructs a StateChangeEvent timestamped at ts.
func NewStateChangeEvent(ts int64, previous, current agentevent.ActivityState) *StateChangeEvent {
	return &StateChangeEvent{baseEvent: baseEvent{EventStateChange, ts}, Previous: previous, Current: current}
}

// NewIntentEvent constructs an IntentEvent timestamped at ts.
func NewIntentEvent(ts int64, intent agentevent.IntentDecision, decision agentevent.SafetyDecision) *IntentEvent {
	return &IntentEvent{baseEvent: baseEvent{EventIntent, ts}, Intent: intent, Decision: decision}
}

// NewExecutionEvent constructs an ExecutionEvent timestamped at ts.
func NewExecutionEvent(ts int64, result agentevent.ExecutionResult) *ExecutionEvent {
	return &ExecutionEvent{baseEvent: baseEvent{EventExecution, ts}, Result: result}
}

// NewHealthChangeEvent constructs a HealthChangeEvent timestamped at ts.
func NewHealthChangeEvent(ts int64, previous, current agentevent.HealthState) *HealthChangeEvent {
	return &HealthChangeEvent{baseEvent: baseEvent{EventHealthChange, ts}, Previous: previous, Current: current}
}

// NewErrorEvent constructs an ErrorEvent timestamped at ts, tagging the faulting component.
func NewErrorEvent(ts int64, component string, err error) *ErrorEvent {
	return &ErrorEvent{baseEvent: baseEvent{EventError, ts}, Component: component, Err: err}
}
