package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

type stubMessagesAPI struct {
	lastParams anthropic.MessageNewParams
	resp       *anthropic.Message
	err        error
}

func (s *stubMessagesAPI) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesAPI{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "hi there"}},
	}}
	c := &anthropicClient{msg: stub, model: "claude-3-5-sonnet", maxTokens: 256}
	state := reasoning.NewAgentState("w1", "t1", "u1", "test", "hello", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "hello"})

	out, err := c.Complete(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Text)
	assert.Empty(t, out.ToolCalls)
	assert.Equal(t, anthropic.Model("claude-3-5-sonnet"), stub.lastParams.Model)
}

func TestAnthropicComplete_ToolUse(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"query": "weather"})
	stub := &stubMessagesAPI{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "call1", Name: "search", Input: input},
		},
	}}
	c := &anthropicClient{msg: stub, model: "claude-3-5-sonnet", maxTokens: 256}
	state := reasoning.NewAgentState("w1", "t1", "u1", "test", "search weather", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "search weather"})

	out, err := c.Complete(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "search", out.ToolCalls[0].Name)
	assert.Equal(t, "weather", out.ToolCalls[0].Arguments["query"])
}

func TestEncodeAnthropicMessages_RoundTripsToolCallAndResult(t *testing.T) {
	msgs := []domain.Message{
		{Role: "user", Content: "find docs"},
		{Role: "assistant", Content: "", ToolCalls: []domain.ToolCall{
			{ID: "call1", Name: "search", Arguments: map[string]any{"q": "docs"}},
		}},
		{Role: "tool", ToolCallID: "call1", Content: "found 3 results"},
	}
	out := encodeAnthropicMessages(msgs)
	require.Len(t, out, 3)
}

func TestEncodeAnthropicTools_SetsNameAndSchema(t *testing.T) {
	defs := []tool.Definition{{Name: "search", Description: "web search", Parameters: map[string]any{"type": "object"}}}
	out := encodeAnthropicTools(defs)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "search", out[0].OfTool.Name)
}
