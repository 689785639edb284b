package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

func TestModelCallLimitMW_AllowsUpToMaxThenStops(t *testing.T) {
	mw := NewModelCallLimitMW(2)
	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	next := func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
		return reasoning.ModelCompletion{Text: "real"}, nil
	}

	c1, err := mw.WrapModel(context.Background(), state, next)
	assert.NoError(t, err)
	assert.Equal(t, "real", c1.Text)

	c2, err := mw.WrapModel(context.Background(), state, next)
	assert.NoError(t, err)
	assert.Equal(t, "real", c2.Text)

	c3, err := mw.WrapModel(context.Background(), state, next)
	assert.NoError(t, err)
	assert.Equal(t, "model call limit reached for this run", c3.Text)
}

func TestModelCallLimitMW_ZeroMaxNeverLimits(t *testing.T) {
	mw := NewModelCallLimitMW(0)
	state := reasoning.NewAgentState("ws", "t", "u", "chat", "q", nil)
	next := func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
		return reasoning.ModelCompletion{Text: "real"}, nil
	}
	for i := 0; i < 10; i++ {
		c, err := mw.WrapModel(context.Background(), state, next)
		assert.NoError(t, err)
		assert.Equal(t, "real", c.Text)
	}
}

func TestToolCallLimitMW_AllowsUpToMaxThenStops(t *testing.T) {
	mw := NewToolCallLimitMW(1)
	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		return "ok"
	}

	r1 := mw.WrapTool(context.Background(), tool.CallContext{}, "c1", "search_web", nil, next)
	assert.Equal(t, "ok", r1)

	r2 := mw.WrapTool(context.Background(), tool.CallContext{}, "c2", "search_web", nil, next)
	assert.Contains(t, r2, "tool call limit (1) reached")
}
