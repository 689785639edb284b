package middleware

import (
	"context"
	"strings"

	"github.com/executive-assistant/ken/internal/reasoning"
)

// MemoryRecord is the narrow view of a stored memory this middleware needs.
// Mirrors the shape internal/memory returns, without importing that
// package — the same forward-reference pattern used by
// reasoning.ModelClient/ToolDispatcher.
type MemoryRecord struct {
	Type       string // "semantic" | "episodic" | "procedural"
	Content    string
	Confidence float64
}

// MemoryProvider is satisfied by internal/memory's Store.
type MemoryProvider interface {
	Search(ctx context.Context, threadID, query string, maxResults int, minConfidence float64, types []string) ([]MemoryRecord, error)
}

// MemoryContextMW searches the user's memory store for context relevant to
// the current turn and stashes a formatted "## User Context (from memory)"
// block in state.CustomState["memory_context"] for the llm provider adapter
// to append to the system prompt. Grounded on original_source's
// middleware/memory_context.py MemoryContextMiddleware.
type MemoryContextMW struct {
	Base
	Provider      MemoryProvider
	MaxMemories   int
	MinConfidence float64
	IncludeTypes  []string
}

func NewMemoryContextMW(provider MemoryProvider, maxMemories int, minConfidence float64, includeTypes []string) *MemoryContextMW {
	if maxMemories <= 0 {
		maxMemories = 10
	}
	if minConfidence <= 0 {
		minConfidence = 0.7
	}
	if len(includeTypes) == 0 {
		includeTypes = []string{"semantic", "procedural"}
	}
	return &MemoryContextMW{
		Provider:      provider,
		MaxMemories:   maxMemories,
		MinConfidence: minConfidence,
		IncludeTypes:  includeTypes,
	}
}

func (m *MemoryContextMW) Name() string { return "memory_context" }

func (m *MemoryContextMW) BeforeModel(ctx context.Context, state *reasoning.AgentState) error {
	if m.Provider == nil {
		return nil
	}
	query := lastUserMessage(state)
	if query == "" {
		return nil
	}

	memories, err := m.Provider.Search(ctx, state.ThreadID, query, m.MaxMemories, m.MinConfidence, m.IncludeTypes)
	if err != nil || len(memories) == 0 {
		return nil
	}

	formatted := formatMemories(memories)
	if formatted == "" {
		return nil
	}
	state.CustomState["memory_context"] = formatted
	return nil
}

func lastUserMessage(state *reasoning.AgentState) string {
	messages := state.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func formatMemories(memories []MemoryRecord) string {
	var b strings.Builder
	b.WriteString("## User Context (from memory)\n\n")
	for _, mem := range memories {
		label := memoryTypeLabel(mem.Type)
		if mem.Confidence >= 0.9 {
			b.WriteString("- **" + label + "**: " + mem.Content + "\n")
		} else {
			b.WriteString("- " + label + ": " + mem.Content + "\n")
		}
	}
	return b.String()
}

func memoryTypeLabel(t string) string {
	switch t {
	case "semantic":
		return "Fact"
	case "episodic":
		return "Event"
	case "procedural":
		return "Rule"
	default:
		return t
	}
}
