package llm

import (
	"context"
	"fmt"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/reasoning"
)

// summarizationPrompt is the fixed instruction a modelSummarizer sends in
// place of a user query when condensing a thread's history.
const summarizationPrompt = "Summarize the conversation so far in a few dense paragraphs. " +
	"Preserve concrete facts, decisions, open action items, and anything the user asked to be remembered. " +
	"Drop small talk and tool chatter. Write the summary itself, with no preamble."

// modelSummarizer adapts a reasoning.ModelClient into a reasoning.Summarizer
// by replaying the thread's messages through one extra model call with a
// fixed summarization instruction, rather than a dedicated endpoint — no
// provider in this module exposes a summarization-specific API.
type modelSummarizer struct {
	client reasoning.ModelClient
}

// Summarizer returns a reasoning.Summarizer backed by model (falling back
// to the registry's default model/provider when model is empty).
func (r *Registry) Summarizer(model string) (reasoning.Summarizer, error) {
	client, err := r.ModelClient(model, "")
	if err != nil {
		return nil, fmt.Errorf("llm: building summarizer: %w", err)
	}
	return &modelSummarizer{client: client}, nil
}

func (m *modelSummarizer) Summarize(ctx context.Context, messages []domain.Message) (string, error) {
	state := reasoning.NewAgentState("", "", "", "", summarizationPrompt, messages)
	completion, err := m.client.Complete(ctx, state)
	if err != nil {
		return "", fmt.Errorf("llm: summarize: %w", err)
	}
	return completion.Text, nil
}
