package middleware

import (
	"context"

	"github.com/executive-assistant/ken/internal/reasoning"
)

// SummarizationMW triggers full-history summarization ahead of a model call
// once the estimated token count exceeds MaxTokens, per spec.md §4.5
// ("when token-estimate of messages exceeds max_tokens, invoke a
// summarization model and replace the prefix with a summary message
// preserving tool-use affordances"). This is distinct from C4's own
// summarize node, which routes on message *count* against
// AgentState.SummaryThreshold after an agent turn completes — this
// middleware's token-estimate trigger can additionally fire before a model
// call even mid-turn, catching conversations with few but very large
// messages that a count threshold alone would miss.
type SummarizationMW struct {
	Base
	Counter    *TokenCounter
	MaxTokens  int
	Keep       int
	Summarizer reasoning.Summarizer
}

func NewSummarizationMW(counter *TokenCounter, maxTokens, keep int, summarizer reasoning.Summarizer) *SummarizationMW {
	if keep <= 0 {
		keep = reasoning.DefaultSummaryKeep
	}
	return &SummarizationMW{Counter: counter, MaxTokens: maxTokens, Keep: keep, Summarizer: summarizer}
}

func (m *SummarizationMW) Name() string { return "summarization" }

func (m *SummarizationMW) BeforeModel(ctx context.Context, state *reasoning.AgentState) error {
	if m.Counter == nil || m.MaxTokens <= 0 || m.Summarizer == nil {
		return nil
	}
	if m.Counter.CountMessages(state.Messages()) < m.MaxTokens {
		return nil
	}
	summary, err := m.Summarizer.Summarize(ctx, state.Messages())
	if err != nil {
		// Best-effort: a failed summarization should not abort the turn.
		return nil
	}
	state.ReplaceWithSummary(summary, m.Keep)
	return nil
}
