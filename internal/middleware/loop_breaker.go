package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/executive-assistant/ken/internal/tool"
)

// ToolLoopBreaker detects a tool stuck in a retry loop — the same
// (thread, tool_name, arg-signature) dispatched max_retries or more times
// within a trailing window — and refuses further calls to that exact
// signature, injecting actionable guidance instead. Grounded on
// original_source's executive_assistant/agent/tool_loop_breaker.py
// ToolLoopBreaker, simplified from its fuzzy args-similarity scoring
// (_args_similarity, a weighted key/value overlap heuristic) to the exact
// arg-signature match tool.LoopBreakBuffer already records during every
// Dispatch call — the signature is still the same (thread, tool, args)
// triple the original keys its call history on, just matched exactly
// rather than fuzzily.
type ToolLoopBreaker struct {
	Base
	Buffer     *tool.LoopBreakBuffer
	MaxRetries int
}

func NewToolLoopBreaker(buffer *tool.LoopBreakBuffer, maxRetries int) *ToolLoopBreaker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ToolLoopBreaker{Buffer: buffer, MaxRetries: maxRetries}
}

func (m *ToolLoopBreaker) Name() string { return "tool_loop_breaker" }

func (m *ToolLoopBreaker) WrapTool(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any, next ToolFunc) string {
	if m.Buffer == nil {
		return next(ctx, callID, name, args)
	}

	sig := tool.Signature(args)
	now := time.Now()
	if m.Buffer.Count(cc.ThreadID, name, sig, now) >= m.MaxRetries {
		return fmt.Sprintf("Error: %s", guidanceFor(name, m.MaxRetries))
	}
	return next(ctx, callID, name, args)
}

// guidanceFor mirrors the original's per-tool-family guidance messages.
func guidanceFor(name string, maxRetries int) string {
	switch {
	case name == "write_file":
		return "LOOP DETECTED: repeated write_file calls with similar content. " +
			"If the content is a dict/object, convert it to a JSON string before passing it as `content`."
	case name == "insert_row" || name == "query_rows":
		return "LOOP DETECTED: repeated table-write calls with similar arguments. " +
			"Check that `values` is a JSON string, not a raw object, and that required columns are present."
	case strings.Contains(strings.ToLower(name), "search"):
		return "LOOP DETECTED: repeated searches with similar queries are not finding what's needed. " +
			"Try different search terms, a different tool, or answer directly without searching."
	default:
		return fmt.Sprintf("LOOP DETECTED: repeated calls to %q with the same arguments (%d+ times). "+
			"Try a different tool or approach.", name, maxRetries)
	}
}
