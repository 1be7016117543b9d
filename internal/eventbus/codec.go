package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire form of an Event sent over a Pulse stream: the event
// type tags which concrete struct to decode the payload into.
type envelope struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"execution_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Encode serializes an Event for transport over a Pulse stream.
func Encode(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal %s payload: %w", evt.Type(), err)
	}
	env := envelope{Type: evt.Type(), ExecutionID: evt.ExecutionID(), OccurredAt: evt.OccurredAt(), Payload: payload}
	return json.Marshal(env)
}

// Decode reconstructs an Event from its wire form.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("eventbus: unmarshal envelope: %w", err)
	}
	base := baseEvent{executionID: env.ExecutionID, occurredAt: env.OccurredAt}

	switch env.Type {
	case EventStepStarted:
		var e StepStartedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventStepCompleted:
		var e StepCompletedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventStepFailed:
		var e StepFailedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventCheckpointed:
		var e CheckpointedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventFailoverPolicyTriggered:
		var e FailoverPolicyTriggeredEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventAutomaticReplanTriggered:
		var e AutomaticReplanTriggeredEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventCompensationExecuted:
		var e CompensationExecutedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventExecutionCompleted:
		return ExecutionCompletedEvent{base}, nil
	case EventExecutionFailed:
		var e ExecutionFailedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventExecutionCancelled:
		var e ExecutionCancelledEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	case EventMovedToDLQ:
		var e MovedToDLQEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		e.baseEvent = base
		return e, nil
	default:
		return nil, fmt.Errorf("eventbus: unknown event type %q", env.Type)
	}
}
