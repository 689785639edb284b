package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

type transientErr struct{ msg string }

func (e transientErr) Error() string   { return e.msg }
func (e transientErr) Temporary() bool { return true }

type permanentErr struct{ msg string }

func (e permanentErr) Error() string   { return e.msg }
func (e permanentErr) Temporary() bool { return false }

func TestModelRetryMW_RetriesTransientThenSucceeds(t *testing.T) {
	mw := NewModelRetryMW(3)
	attempts := 0
	next := func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
		attempts++
		if attempts < 2 {
			return reasoning.ModelCompletion{}, transientErr{"connection reset"}
		}
		return reasoning.ModelCompletion{Text: "ok"}, nil
	}

	completion, err := mw.WrapModel(context.Background(), reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil), next)
	assert.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, 2, attempts)
}

func TestModelRetryMW_PermanentErrorStopsImmediately(t *testing.T) {
	mw := NewModelRetryMW(5)
	attempts := 0
	next := func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
		attempts++
		return reasoning.ModelCompletion{}, permanentErr{"bad request"}
	}

	_, err := mw.WrapModel(context.Background(), reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil), next)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestModelRetryMW_RateLimitedRespectsRetryAfter(t *testing.T) {
	mw := NewModelRetryMW(2)
	attempts := 0
	start := time.Now()
	next := func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
		attempts++
		if attempts < 2 {
			return reasoning.ModelCompletion{}, rateLimitedErr{msg: "slow down", after: 20 * time.Millisecond}
		}
		return reasoning.ModelCompletion{Text: "ok"}, nil
	}

	completion, err := mw.WrapModel(context.Background(), reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil), next)
	assert.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

type rateLimitedErr struct {
	msg   string
	after time.Duration
}

func (e rateLimitedErr) Error() string            { return e.msg }
func (e rateLimitedErr) RetryAfter() time.Duration { return e.after }

func TestToolRetryMW_RetriesTransientResultThenSucceeds(t *testing.T) {
	mw := NewToolRetryMW(3)
	attempts := 0
	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		attempts++
		if attempts < 2 {
			return "Error: connection refused"
		}
		return "result"
	}

	result := mw.WrapTool(context.Background(), tool.CallContext{}, "c1", "search_web", nil, next)
	assert.Equal(t, "result", result)
	assert.Equal(t, 2, attempts)
}

func TestToolRetryMW_NonTransientResultNotRetried(t *testing.T) {
	mw := NewToolRetryMW(3)
	attempts := 0
	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		attempts++
		return "Error: schema violation: missing field foo"
	}

	result := mw.WrapTool(context.Background(), tool.CallContext{}, "c1", "search_web", nil, next)
	assert.Equal(t, "Error: schema violation: missing field foo", result)
	assert.Equal(t, 1, attempts)
}

func TestToolRetryMW_SkipsNamesNotInRetryNames(t *testing.T) {
	mw := NewToolRetryMW(3)
	mw.RetryNames = map[string]bool{"other_tool": true}
	attempts := 0
	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		attempts++
		return "Error: connection refused"
	}

	result := mw.WrapTool(context.Background(), tool.CallContext{}, "c1", "search_web", nil, next)
	assert.Equal(t, "Error: connection refused", result)
	assert.Equal(t, 1, attempts)
}

func TestIsTransientToolResult(t *testing.T) {
	assert.True(t, isTransientToolResult("Error: operation timed out after 30s"))
	assert.True(t, isTransientToolResult("Error: rate limited, try again"))
	assert.False(t, isTransientToolResult("Error: tool not found: foo"))
	assert.False(t, isTransientToolResult("result text"))
}
