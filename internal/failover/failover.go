// Package failover implements the Failover Policy Engine (C8): a
// deterministic keyword-and-structured-error matcher that turns a failed
// step's classified error into a recommended next action, without itself
// executing anything. Policies are loaded from an ordered YAML document,
// the same config-as-data shape the teacher's DSL layer uses for toolset
// definitions, generalized here to failure-recovery policy.
package failover

import (
	"context"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// Reason enumerates the structured failure reasons a policy can match on.
type Reason string

const (
	ReasonRestaurantFull       Reason = "RESTAURANT_FULL"
	ReasonPartyTooLarge        Reason = "PARTY_SIZE_TOO_LARGE"
	ReasonPaymentFailed        Reason = "PAYMENT_FAILED"
	ReasonTimeout              Reason = "TIMEOUT"
	ReasonValidationFailed     Reason = "VALIDATION_FAILED"
	ReasonDeliveryUnavailable  Reason = "DELIVERY_UNAVAILABLE"
	ReasonServiceError         Reason = "SERVICE_ERROR"
)

// ActionType enumerates the recommended-action vocabulary a policy can
// produce. RETRY is a recommendation only: the Workflow Machine never
// auto-executes it as a silent retry — see the ActionRetry doc comment.
type ActionType string

const (
	ActionSuggestAlternativeTime       ActionType = "SUGGEST_ALTERNATIVE_TIME"
	ActionSuggestAlternativeRestaurant ActionType = "SUGGEST_ALTERNATIVE_RESTAURANT"
	ActionSuggestAlternativeDate       ActionType = "SUGGEST_ALTERNATIVE_DATE"
	ActionTriggerDelivery              ActionType = "TRIGGER_DELIVERY"
	ActionTriggerWaitlist              ActionType = "TRIGGER_WAITLIST"
	ActionEscalateToHuman              ActionType = "ESCALATE_TO_HUMAN"
	// ActionRetry recommends a retry but does not perform one. Recovery from
	// a RETRY recommendation always goes back through the Replanner so the
	// decision to actually retry is an explicit, auditable step rather than
	// an automatic loop hidden inside the Workflow Machine.
	ActionRetry ActionType = "RETRY"
)

// Context is the input to Classify: everything the engine is allowed to look
// at when picking a policy.
type Context struct {
	IntentType    string
	FailureReason Reason
	Confidence    float64
	AttemptCount  int
	Metadata      map[string]string
	RawMessage    string
}

// RecommendedAction is the policy's output action.
type RecommendedAction struct {
	Type            ActionType
	MessageTemplate string
}

// Decision is the result of Classify.
type Decision struct {
	Matched       bool
	Recoverable   bool
	PolicyName    string
	FailureReason Reason
	Action        RecommendedAction
	Suggestions   []string
}

// Policy is one ordered entry in the policy document. The first policy whose
// Match succeeds wins, so more specific policies must be listed first.
type Policy struct {
	Name          string   `yaml:"name"`
	FailureReason Reason   `yaml:"failure_reason"`
	Keywords      []string `yaml:"keywords"`
	MaxAttempts   int      `yaml:"max_attempts"`
	Recoverable   bool     `yaml:"recoverable"`
	Action        struct {
		Type            ActionType `yaml:"type"`
		MessageTemplate string     `yaml:"message_template"`
	} `yaml:"action"`
	Suggestions []string `yaml:"suggestions"`
}

// document is the top-level YAML shape: an ordered policy list plus a
// fallback applied when nothing else matches.
type document struct {
	Policies []Policy `yaml:"policies"`
	Fallback *Policy  `yaml:"fallback"`
}

// Engine is the Failover Policy Engine.
type Engine struct {
	policies []Policy
	fallback *Policy
	log      telemetry.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New constructs an Engine from an ordered in-memory policy list, for
// callers that build policies programmatically (tests, or a caller that
// already parsed YAML itself).
func New(policies []Policy, fallback *Policy, opts ...Option) *Engine {
	e := &Engine{policies: policies, fallback: fallback, log: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LoadYAML parses a policy document and constructs an Engine from it.
func LoadYAML(data []byte, opts ...Option) (*Engine, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return New(doc.Policies, doc.Fallback, opts...), nil
}

// Classify matches ctx against the policy list in order and returns the
// first match's decision. It never mutates state and never calls another
// component; the Workflow Machine is solely responsible for acting on the
// Decision it returns.
func (e *Engine) Classify(ctx context.Context, c Context) Decision {
	for _, p := range e.policies {
		if matches(p, c) {
			return decisionFromPolicy(p, c)
		}
	}
	if e.fallback != nil {
		return decisionFromPolicy(*e.fallback, c)
	}
	return Decision{
		Matched:       false,
		Recoverable:   false,
		FailureReason: c.FailureReason,
		Action:        RecommendedAction{Type: ActionEscalateToHuman, MessageTemplate: "no matching recovery policy; escalating to a human"},
	}
}

func matches(p Policy, c Context) bool {
	if p.FailureReason != "" && p.FailureReason != c.FailureReason {
		return false
	}
	if p.MaxAttempts > 0 && c.AttemptCount > p.MaxAttempts {
		return false
	}
	if len(p.Keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(c.RawMessage)
	for _, kw := range p.Keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func decisionFromPolicy(p Policy, c Context) Decision {
	return Decision{
		Matched:       true,
		Recoverable:   p.Recoverable,
		PolicyName:    p.Name,
		FailureReason: c.FailureReason,
		Action:        RecommendedAction{Type: p.Action.Type, MessageTemplate: p.Action.MessageTemplate},
		Suggestions:   p.Suggestions,
	}
}

// ReasonFromToolErrorCode maps a toolexec.Error.Kind string (the only
// information a raw tool failure carries) onto the structured Reason
// vocabulary used for policy matching. Any tool-level kind not recognized
// here maps to ReasonServiceError so Classify always has a reason to match
// against.
func ReasonFromToolErrorCode(code string) Reason {
	switch code {
	case "TIMEOUT":
		return ReasonTimeout
	case "VALIDATION_ERROR":
		return ReasonValidationFailed
	default:
		return ReasonServiceError
	}
}
