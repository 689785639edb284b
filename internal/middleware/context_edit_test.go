package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/reasoning"
)

func TestContextEditingMW_ElidesOnceOverThreshold(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	for i := 0; i < 10; i++ {
		state.AppendMessage(domain.Message{Role: "tool", Content: strings.Repeat("word ", 50), ToolCallID: "c"})
	}

	mw := NewContextEditingMW(counter, 1, 2)
	require.NoError(t, mw.BeforeModel(context.Background(), state))

	elided := 0
	for _, m := range state.Messages() {
		if m.Content == "[elided: tool output removed to free context]" {
			elided++
		}
	}
	assert.Equal(t, 8, elided)
}

func TestContextEditingMW_NoopUnderThreshold(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "tool", Content: "short", ToolCallID: "c"})

	mw := NewContextEditingMW(counter, 100000, 2)
	require.NoError(t, mw.BeforeModel(context.Background(), state))

	assert.Equal(t, "short", state.Messages()[0].Content)
}
