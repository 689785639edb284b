package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/reasoning"
)

type stubMemoryProvider struct {
	records []MemoryRecord
}

func (s stubMemoryProvider) Search(ctx context.Context, userID, query string, maxResults int, minConfidence float64, types []string) ([]MemoryRecord, error) {
	return s.records, nil
}

func TestMemoryContextMW_InjectsFormattedMemories(t *testing.T) {
	provider := stubMemoryProvider{records: []MemoryRecord{
		{Type: "semantic", Content: "prefers dark mode", Confidence: 0.95},
		{Type: "procedural", Content: "always confirm before deleting files", Confidence: 0.8},
	}}
	mw := NewMemoryContextMW(provider, 10, 0.7, nil)

	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "what's my theme preference?"})

	require.NoError(t, mw.BeforeModel(context.Background(), state))

	formatted, ok := state.CustomState["memory_context"].(string)
	require.True(t, ok)
	assert.Contains(t, formatted, "## User Context (from memory)")
	assert.Contains(t, formatted, "**Fact**: prefers dark mode")
	assert.Contains(t, formatted, "Rule: always confirm before deleting files")
}

func TestMemoryContextMW_NoQueryIsNoop(t *testing.T) {
	provider := stubMemoryProvider{records: []MemoryRecord{{Type: "semantic", Content: "x", Confidence: 0.9}}}
	mw := NewMemoryContextMW(provider, 10, 0.7, nil)

	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	require.NoError(t, mw.BeforeModel(context.Background(), state))

	_, ok := state.CustomState["memory_context"]
	assert.False(t, ok)
}

func TestMemoryContextMW_NilProviderIsNoop(t *testing.T) {
	mw := NewMemoryContextMW(nil, 10, 0.7, nil)
	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "hi"})
	require.NoError(t, mw.BeforeModel(context.Background(), state))
	_, ok := state.CustomState["memory_context"]
	assert.False(t, ok)
}
