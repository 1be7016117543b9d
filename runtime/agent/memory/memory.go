// Package memory defines the durable event record that an agent run's
// transcript is replayed from. Events are the only thing transcript.Ledger
// needs to reconstruct provider-ready messages after a process restart.
package memory

import "time"

// EventType identifies what kind of turn activity an Event records.
type EventType string

const (
	// EventUserMessage records a user-authored message.
	EventUserMessage EventType = "user_message"
	// EventAssistantMessage records visible assistant text.
	EventAssistantMessage EventType = "assistant_message"
	// EventThinking records a provider reasoning block.
	EventThinking EventType = "thinking"
	// EventToolCall records a tool invocation requested by the assistant.
	EventToolCall EventType = "tool_call"
	// EventToolResult records the result of a prior EventToolCall.
	EventToolResult EventType = "tool_result"
	// EventPlannerNote records an internal planner annotation not sent to
	// the provider.
	EventPlannerNote EventType = "planner_note"
)

// Event is one durable record in an agent run's event log. Data's shape
// depends on Type; transcript.BuildMessagesFromEvents documents the exact
// keys it reads per event type.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}
