package middleware

import (
	"context"

	"github.com/executive-assistant/ken/internal/reasoning"
)

// Learner is satisfied by internal/memory's Learner (its Store+Observer
// pairing); defined locally so internal/middleware never imports
// internal/memory, continuing this package's forward-reference pattern.
type Learner interface {
	// LearnFromMessage extracts and persists candidate memories from a
	// completed turn's last user message.
	LearnFromMessage(ctx context.Context, threadID, userMessage string) error
	// ObserveMessage detects behavioral patterns in the last user message
	// and records/reinforces instincts, returning the instinct IDs touched.
	ObserveMessage(ctx context.Context, threadID, userMessage string) ([]string, error)
	// ObserveOutcome checks the new user message for satisfaction/
	// frustration language and reinforces/penalizes the instincts applied
	// to the turn it is replying to.
	ObserveOutcome(ctx context.Context, threadID, userMessage string, appliedInstinctIDs []string) error
}

// LearningMW runs passive memory/instinct learning once a turn completes,
// grounded on original_source's MemoryLearningMiddleware.after_agent and
// InstinctObserver.observe_message/observe_conversation_outcome. It reads
// state.CustomState["applied_instinct_ids"] and writes nothing back to
// state: every side effect lands in the Learner's own store. Nothing in the
// runtime sets that key (InstinctInjectorMW does not), so ObserveOutcome
// runs only when a caller has put it in CustomState.
type LearningMW struct {
	Base
	Learner Learner
}

func NewLearningMW(learner Learner) *LearningMW {
	return &LearningMW{Learner: learner}
}

func (m *LearningMW) Name() string { return "learning" }

// AfterAgent runs once the loop reaches its terminal node. Errors are
// swallowed without logging (best-effort learning, matching the Python
// original's bare `except Exception: pass`).
func (m *LearningMW) AfterAgent(ctx context.Context, state *reasoning.AgentState) {
	if m.Learner == nil {
		return
	}
	userMessage := lastUserMessage(state)
	if userMessage == "" {
		return
	}

	_ = m.Learner.LearnFromMessage(ctx, state.ThreadID, userMessage)
	_, _ = m.Learner.ObserveMessage(ctx, state.ThreadID, userMessage)

	if applied, ok := state.CustomState["applied_instinct_ids"].([]string); ok {
		_ = m.Learner.ObserveOutcome(ctx, state.ThreadID, userMessage, applied)
	}
}
