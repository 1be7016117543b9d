package llmbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "github.com/sagaworks/saga-engine/runtime/agent/model"
	legacy "github.com/sagaworks/saga-engine/runtime/agents/model"
)

type fakeLegacyClient struct {
	gotReq legacy.Request
	resp   legacy.Response
	err    error
}

func (f *fakeLegacyClient) Complete(_ context.Context, req legacy.Request) (legacy.Response, error) {
	f.gotReq = req
	return f.resp, f.err
}

func (f *fakeLegacyClient) Stream(context.Context, legacy.Request) (legacy.Streamer, error) {
	return nil, legacy.ErrStreamingUnsupported
}

func TestOpenAIBridge_FlattensTypedPartsIntoLegacyMessages(t *testing.T) {
	fake := &fakeLegacyClient{
		resp: legacy.Response{
			Content:    []legacy.Message{{Role: "assistant", Content: "the weather is sunny"}},
			StopReason: "stop",
			Usage:      legacy.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
	}
	bridge := NewOpenAIBridge(fake)

	req := &v2.Request{
		Model: "gpt-4o",
		Messages: []*v2.Message{
			{Role: v2.ConversationRoleUser, Parts: []v2.Part{v2.TextPart{Text: "what's the weather?"}}},
		},
		Temperature: 0.2,
		MaxTokens:   512,
	}

	resp, err := bridge.Complete(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, fake.gotReq.Messages, 1)
	assert.Equal(t, "user", fake.gotReq.Messages[0].Role)
	assert.Equal(t, "what's the weather?", fake.gotReq.Messages[0].Content)
	assert.Equal(t, float32(0.2), fake.gotReq.Temperature)
	assert.Equal(t, 512, fake.gotReq.MaxTokens)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, v2.ConversationRole("assistant"), resp.Content[0].Role)
	require.Len(t, resp.Content[0].Parts, 1)
	textPart, ok := resp.Content[0].Parts[0].(v2.TextPart)
	require.True(t, ok)
	assert.Equal(t, "the weather is sunny", textPart.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIBridge_PropagatesToolCalls(t *testing.T) {
	fake := &fakeLegacyClient{
		resp: legacy.Response{
			ToolCalls: []legacy.ToolCall{
				{Name: "find.restaurant", Payload: map[string]any{"cuisine": "thai"}},
			},
		},
	}
	bridge := NewOpenAIBridge(fake)

	resp, err := bridge.Complete(context.Background(), &v2.Request{Model: "gpt-4o"})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.EqualValues(t, "find.restaurant", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"cuisine":"thai"}`, string(resp.ToolCalls[0].Payload))
}

func TestOpenAIBridge_Stream_ReturnsUnsupportedError(t *testing.T) {
	bridge := NewOpenAIBridge(&fakeLegacyClient{})

	_, err := bridge.Stream(context.Background(), &v2.Request{})
	assert.ErrorIs(t, err, v2.ErrStreamingUnsupported)
}

func TestOpenAIBridge_PropagatesUnderlyingError(t *testing.T) {
	wantErr := assert.AnError
	fake := &fakeLegacyClient{err: wantErr}
	bridge := NewOpenAIBridge(fake)

	_, err := bridge.Complete(context.Background(), &v2.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, wantErr)
}
