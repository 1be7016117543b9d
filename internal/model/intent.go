// Package model defines the durable data types shared by every saga engine
// component: intents, plans, execution state, and compensation records. All
// entities are identified by UUIDs and timestamped in UTC; they are designed
// to round-trip through JSON bitwise-equivalently (modulo UpdatedAt).
package model

import "time"

// IntentType classifies what the user utterance was asking for. The LLM
// intent parser that produces these values is out of scope for this engine;
// the engine only consumes the typed result.
type IntentType string

const (
	IntentSchedule             IntentType = "SCHEDULE"
	IntentSearch               IntentType = "SEARCH"
	IntentAction               IntentType = "ACTION"
	IntentQuery                IntentType = "QUERY"
	IntentPlanning             IntentType = "PLANNING"
	IntentAnalysis             IntentType = "ANALYSIS"
	IntentUnknown              IntentType = "UNKNOWN"
	IntentClarificationRequired IntentType = "CLARIFICATION_REQUIRED"
	IntentServiceDegraded      IntentType = "SERVICE_DEGRADED"
)

// IntentMetadata carries provenance for an Intent.
type IntentMetadata struct {
	Version   string    `json:"version" bson:"version"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Source    string    `json:"source" bson:"source"`
	ModelID   string    `json:"model_id,omitempty" bson:"model_id,omitempty"`
}

// Intent is an immutable record of a parsed user utterance. Supersession
// (e.g. during replanning) creates a new Intent that links back via
// ParentIntentID rather than mutating the original.
type Intent struct {
	ID             string         `json:"id" bson:"_id"`
	ParentIntentID string         `json:"parent_intent_id,omitempty" bson:"parent_intent_id,omitempty"`
	Type           IntentType     `json:"type" bson:"type"`
	Confidence     float64        `json:"confidence" bson:"confidence"`
	Parameters     map[string]any `json:"parameters" bson:"parameters"`
	RawText        string         `json:"raw_text" bson:"raw_text"`
	Metadata       IntentMetadata `json:"metadata" bson:"metadata"`
}

// Clone returns a deep copy of the Intent so callers can safely mutate
// Parameters without aliasing the stored record.
func (i Intent) Clone() Intent {
	out := i
	out.Parameters = cloneMap(i.Parameters)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
