package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

// ModelCallLimitMW enforces a hard cap on model calls per agent run. On
// exceed, it injects a stop message instead of calling the model, per
// spec.md §4.5 ("on exceed, inject a stop message"). Grounded on the
// teacher's pkg/ratelimit count-limit rule shape (LimitRule{Type:
// LimitTypeCount}), adapted from an HTTP-request counter to a per-run model-
// call counter.
type ModelCallLimitMW struct {
	Base
	Max int

	mu    sync.Mutex
	calls int
}

func NewModelCallLimitMW(max int) *ModelCallLimitMW {
	return &ModelCallLimitMW{Max: max}
}

func (m *ModelCallLimitMW) Name() string { return "model_call_limit" }

func (m *ModelCallLimitMW) WrapModel(ctx context.Context, state *reasoning.AgentState, next ModelFunc) (reasoning.ModelCompletion, error) {
	m.mu.Lock()
	m.calls++
	exceeded := m.Max > 0 && m.calls > m.Max
	m.mu.Unlock()

	if exceeded {
		return reasoning.ModelCompletion{Text: "model call limit reached for this run"}, nil
	}
	return next(ctx, state)
}

// ToolCallLimitMW enforces a hard cap on tool calls per agent run,
// independent of (and typically looser than) ToolLoopBreaker's per-
// signature repeat detection: this bounds total tool usage regardless of
// which tool or arguments are involved.
type ToolCallLimitMW struct {
	Base
	Max int

	mu    sync.Mutex
	calls int
}

func NewToolCallLimitMW(max int) *ToolCallLimitMW {
	return &ToolCallLimitMW{Max: max}
}

func (m *ToolCallLimitMW) Name() string { return "tool_call_limit" }

func (m *ToolCallLimitMW) WrapTool(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any, next ToolFunc) string {
	m.mu.Lock()
	m.calls++
	exceeded := m.Max > 0 && m.calls > m.Max
	m.mu.Unlock()

	if exceeded {
		return fmt.Sprintf("Error: tool call limit (%d) reached for this run; no further tool calls will be executed", m.Max)
	}
	return next(ctx, callID, name, args)
}
