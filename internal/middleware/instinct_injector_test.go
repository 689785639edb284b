package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/reasoning"
)

type stubInstinctProvider struct {
	applicable []Instinct
	highConf   []Instinct
}

func (s stubInstinctProvider) Applicable(ctx context.Context, threadID, userMessage string, maxCount int) ([]Instinct, error) {
	return s.applicable, nil
}

func (s stubInstinctProvider) ListHighConfidence(ctx context.Context, threadID string, minConfidence float64) ([]Instinct, error) {
	return s.highConf, nil
}

func TestInstinctInjectorMW_InjectsGroupedByDomain(t *testing.T) {
	provider := stubInstinctProvider{applicable: []Instinct{
		{Domain: "communication", Trigger: "always", Action: "use short sentences", Confidence: 0.85},
		{Domain: "workflow", Trigger: "on deploy", Action: "ask for confirmation", Confidence: 0.5},
	}}
	mw := NewInstinctInjectorMW(provider, 0.5, 3)

	state := reasoning.NewAgentState("ws", "thread-1", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "deploy the service"})

	require.NoError(t, mw.BeforeModel(context.Background(), state))

	formatted, ok := state.CustomState["behavioral_patterns"].(string)
	require.True(t, ok)
	assert.Contains(t, formatted, "## Behavioral Patterns")
	assert.Contains(t, formatted, "### Communication")
	assert.Contains(t, formatted, "**use short sentences** (always apply)")
	assert.Contains(t, formatted, "### Workflow")
	assert.Contains(t, formatted, "ask for confirmation (when: on deploy)")
}

func TestInstinctInjectorMW_ConflictResolutionDropsOverridden(t *testing.T) {
	provider := stubInstinctProvider{applicable: []Instinct{
		{Domain: "communication", Trigger: "always", Action: "be concise", Confidence: 0.8},
		{Domain: "communication", Trigger: "always", Action: "give detailed explanations", Confidence: 0.7},
	}}
	mw := NewInstinctInjectorMW(provider, 0.5, 3)

	state := reasoning.NewAgentState("ws", "thread-1", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "explain this"})

	require.NoError(t, mw.BeforeModel(context.Background(), state))

	formatted := state.CustomState["behavioral_patterns"].(string)
	assert.Contains(t, formatted, "be concise")
	assert.NotContains(t, formatted, "give detailed explanations")
}

func TestInstinctInjectorMW_FallsBackToHighConfidenceWhenNoApplicable(t *testing.T) {
	provider := stubInstinctProvider{
		applicable: nil,
		highConf: []Instinct{
			{Domain: "format", Trigger: "always", Action: "use bullet points", Confidence: 0.9},
		},
	}
	mw := NewInstinctInjectorMW(provider, 0.5, 3)

	state := reasoning.NewAgentState("ws", "thread-1", "u", "chat", "q", nil)
	state.AppendMessage(domain.Message{Role: "user", Content: "summarize"})

	require.NoError(t, mw.BeforeModel(context.Background(), state))

	formatted := state.CustomState["behavioral_patterns"].(string)
	assert.Contains(t, formatted, "use bullet points")
}

func TestInstinctInjectorMW_NilProviderIsNoop(t *testing.T) {
	mw := NewInstinctInjectorMW(nil, 0.5, 3)
	state := reasoning.NewAgentState("ws", "thread-1", "u", "chat", "q", nil)
	require.NoError(t, mw.BeforeModel(context.Background(), state))
	_, ok := state.CustomState["behavioral_patterns"]
	assert.False(t, ok)
}
