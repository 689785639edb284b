package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

type stubModel struct {
	completion reasoning.ModelCompletion
	err        error
}

func (s stubModel) Complete(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
	return s.completion, s.err
}

type stubDispatcher struct{ result string }

func (s stubDispatcher) Dispatch(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any) string {
	return s.result
}

// orderRecordingMW records the order BeforeModel/AfterModel/WrapModel fire in.
type orderRecordingMW struct {
	Base
	name  string
	trace *[]string
}

func (m *orderRecordingMW) Name() string { return m.name }

func (m *orderRecordingMW) BeforeModel(ctx context.Context, state *reasoning.AgentState) error {
	*m.trace = append(*m.trace, m.name+":before")
	return nil
}

func (m *orderRecordingMW) WrapModel(ctx context.Context, state *reasoning.AgentState, next ModelFunc) (reasoning.ModelCompletion, error) {
	*m.trace = append(*m.trace, m.name+":wrap-enter")
	result, err := next(ctx, state)
	*m.trace = append(*m.trace, m.name+":wrap-exit")
	return result, err
}

func (m *orderRecordingMW) AfterModel(ctx context.Context, state *reasoning.AgentState, completion *reasoning.ModelCompletion) {
	*m.trace = append(*m.trace, m.name+":after")
}

func TestPipeline_Complete_RunsMiddlewareInOrder(t *testing.T) {
	var trace []string
	outer := &orderRecordingMW{name: "outer", trace: &trace}
	inner := &orderRecordingMW{name: "inner", trace: &trace}

	p := NewPipeline(stubModel{completion: reasoning.ModelCompletion{Text: "hi"}}, stubDispatcher{}, tool.CallContext{}, outer, inner)

	state := reasoning.NewAgentState("ws", "thread", "user", "chat", "hello", nil)
	completion, err := p.Complete(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "hi", completion.Text)

	assert.Equal(t, []string{
		"outer:before", "inner:before",
		"outer:wrap-enter", "inner:wrap-enter", "inner:wrap-exit", "outer:wrap-exit",
		"outer:after", "inner:after",
	}, trace)
}

func TestPipeline_Dispatch_WrapsToolCall(t *testing.T) {
	var calls []string
	mw := &recordingToolMW{calls: &calls}
	p := NewPipeline(stubModel{}, stubDispatcher{result: "42"}, tool.CallContext{}, mw)

	result := p.Dispatch(context.Background(), tool.CallContext{}, "call-1", "search_web", map[string]any{"query": "go"})
	assert.Equal(t, "42", result)
	assert.Equal(t, []string{"before", "after"}, calls)
}

type recordingToolMW struct {
	Base
	calls *[]string
}

func (m *recordingToolMW) Name() string { return "recording_tool" }

func (m *recordingToolMW) WrapTool(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any, next ToolFunc) string {
	*m.calls = append(*m.calls, "before")
	result := next(ctx, callID, name, args)
	*m.calls = append(*m.calls, "after")
	return result
}

func TestPipeline_AfterAgent_CallsEveryMiddleware(t *testing.T) {
	var trace []string
	a := &afterAgentMW{name: "a", trace: &trace}
	b := &afterAgentMW{name: "b", trace: &trace}
	p := NewPipeline(stubModel{}, stubDispatcher{}, tool.CallContext{}, a, b)

	state := reasoning.NewAgentState("ws", "thread", "user", "chat", "hello", nil)
	p.AfterAgent(context.Background(), state)
	assert.Equal(t, []string{"a", "b"}, trace)
}

type afterAgentMW struct {
	Base
	name  string
	trace *[]string
}

func (m *afterAgentMW) Name() string { return m.name }

func (m *afterAgentMW) AfterAgent(ctx context.Context, state *reasoning.AgentState) {
	*m.trace = append(*m.trace, m.name)
}
