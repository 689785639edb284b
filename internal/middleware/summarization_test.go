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

func TestSummarizationMW_SummarizesOverTokenThreshold(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	for i := 0; i < 5; i++ {
		state.AppendMessage(domain.Message{Role: "user", Content: strings.Repeat("word ", 200)})
	}

	mw := NewSummarizationMW(counter, 10, 2, fixedSummarizer{"the conversation was about X"})
	require.NoError(t, mw.BeforeModel(context.Background(), state))

	assert.Equal(t, "the conversation was about X", state.Summary())
	messages := state.Messages()
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "the conversation was about X")
}

func TestSummarizationMW_NoopUnderTokenThreshold(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "hi"})

	mw := NewSummarizationMW(counter, 100000, 2, fixedSummarizer{"should not be used"})
	require.NoError(t, mw.BeforeModel(context.Background(), state))

	assert.Empty(t, state.Summary())
}

type fixedSummarizer struct{ text string }

func (s fixedSummarizer) Summarize(ctx context.Context, messages []domain.Message) (string, error) {
	return s.text, nil
}
