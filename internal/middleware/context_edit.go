package middleware

import (
	"context"

	"github.com/executive-assistant/ken/internal/reasoning"
)

// ContextEditingMW elides old tool-use content once the estimated token
// count of the turn's messages crosses TriggerTokens, retaining the most
// recent KeepToolUses tool-result messages and every human/assistant
// message untouched. Grounded on the teacher's pkg/agent/context_manager.go
// ContextManager (token-threshold-gated context shrinking ahead of a model
// call), narrowed to the one transformation spec.md §4.5 names for this
// middleware (elision, not full summarization — that's SummarizationMW).
type ContextEditingMW struct {
	Base
	Counter       *TokenCounter
	TriggerTokens int
	KeepToolUses  int
}

func NewContextEditingMW(counter *TokenCounter, triggerTokens, keepToolUses int) *ContextEditingMW {
	if keepToolUses <= 0 {
		keepToolUses = 3
	}
	return &ContextEditingMW{Counter: counter, TriggerTokens: triggerTokens, KeepToolUses: keepToolUses}
}

func (m *ContextEditingMW) Name() string { return "context_editing" }

func (m *ContextEditingMW) BeforeModel(ctx context.Context, state *reasoning.AgentState) error {
	if m.Counter == nil || m.TriggerTokens <= 0 {
		return nil
	}
	if m.Counter.CountMessages(state.Messages()) < m.TriggerTokens {
		return nil
	}
	state.ElideOldToolContent(m.KeepToolUses)
	return nil
}
