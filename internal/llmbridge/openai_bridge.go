// Package llmbridge adapts features/model/openai's Client — which targets
// the flat-string Request/Response shape in runtime/agents/model, an older
// generation of the agent runtime kept alongside the typed-parts
// runtime/agent/model used everywhere else — onto the typed-parts
// llm.Client contract the Replanner (internal/replanner) expects. Every
// other provider adapter (anthropic, bedrock) already targets
// runtime/agent/model directly and needs no bridge.
package llmbridge

import (
	"context"
	"encoding/json"
	"strings"

	v2 "github.com/sagaworks/saga-engine/runtime/agent/model"
	"github.com/sagaworks/saga-engine/runtime/agent/tools"
	legacy "github.com/sagaworks/saga-engine/runtime/agents/model"
)

// OpenAIBridge wraps a runtime/agents/model.Client so it satisfies
// runtime/agent/model.Client.
type OpenAIBridge struct {
	client legacy.Client
}

// NewOpenAIBridge wraps client for use as the Replanner's llm.Client.
func NewOpenAIBridge(client legacy.Client) *OpenAIBridge {
	return &OpenAIBridge{client: client}
}

// Complete flattens req's typed message parts into the legacy plain-text
// shape, calls through, and rebuilds a typed Response from the legacy
// result.
func (b *OpenAIBridge) Complete(ctx context.Context, req *v2.Request) (*v2.Response, error) {
	legacyReq := legacy.Request{
		Model:       req.Model,
		Messages:    flattenMessages(req.Messages),
		Temperature: req.Temperature,
		Tools:       flattenTools(req.Tools),
		MaxTokens:   req.MaxTokens,
	}
	resp, err := b.client.Complete(ctx, legacyReq)
	if err != nil {
		return nil, err
	}
	return &v2.Response{
		Content:    expandMessages(resp.Content),
		ToolCalls:  expandToolCalls(resp.ToolCalls),
		StopReason: resp.StopReason,
		Usage: v2.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream is unsupported: the legacy go-openai adapter this bridges to
// never implemented its own Stream either.
func (b *OpenAIBridge) Stream(context.Context, *v2.Request) (v2.Streamer, error) {
	return nil, v2.ErrStreamingUnsupported
}

func flattenMessages(messages []*v2.Message) []legacy.Message {
	out := make([]legacy.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, legacy.Message{Role: string(m.Role), Content: flattenParts(m.Parts)})
	}
	return out
}

func flattenParts(parts []v2.Part) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString("\n")
		}
		switch part := p.(type) {
		case v2.TextPart:
			b.WriteString(part.Text)
		case v2.ThinkingPart:
			b.WriteString(part.Text)
		case v2.ToolUsePart:
			raw, _ := json.Marshal(part.Input)
			b.WriteString(part.Name + "(" + string(raw) + ")")
		case v2.ToolResultPart:
			raw, _ := json.Marshal(part.Content)
			b.WriteString(string(raw))
		}
	}
	return b.String()
}

func expandMessages(messages []legacy.Message) []v2.Message {
	out := make([]v2.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, v2.Message{
			Role:  v2.ConversationRole(m.Role),
			Parts: []v2.Part{v2.TextPart{Text: m.Content}},
		})
	}
	return out
}

func flattenTools(defs []*v2.ToolDefinition) []legacy.ToolDefinition {
	out := make([]legacy.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, legacy.ToolDefinition{
			Name:        string(d.Name),
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

func expandToolCalls(calls []legacy.ToolCall) []v2.ToolCall {
	out := make([]v2.ToolCall, 0, len(calls))
	for _, c := range calls {
		raw, _ := json.Marshal(c.Payload)
		out = append(out, v2.ToolCall{Name: tools.Ident(c.Name), Payload: raw})
	}
	return out
}
