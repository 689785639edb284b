package flow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/storage"
	"github.com/executive-assistant/ken/internal/tool"
)

type fakeFlowStore struct {
	storage.RelationalStore
	flows map[string]domain.ScheduledFlow
}

func newFakeFlowStore(flows ...domain.ScheduledFlow) *fakeFlowStore {
	s := &fakeFlowStore{flows: map[string]domain.ScheduledFlow{}}
	for _, f := range flows {
		s.flows[f.ID] = f
	}
	return s
}

func (s *fakeFlowStore) GetFlow(ctx context.Context, id string) (domain.ScheduledFlow, bool, error) {
	f, ok := s.flows[id]
	return f, ok, nil
}

func (s *fakeFlowStore) TransitionFlow(ctx context.Context, id string, from, to domain.FlowStatus, result, errMsg string) (bool, error) {
	f, ok := s.flows[id]
	if !ok || f.Status != from {
		return false, nil
	}
	f.Status = to
	f.Result = result
	f.Error = errMsg
	s.flows[id] = f
	return true, nil
}

// stubModel returns a fixed completion regardless of state; the system
// prompt it was built for is recorded by stubModelProvider so tests can
// assert substitution.
type stubModel struct {
	text string
}

func (m *stubModel) Complete(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
	return reasoning.ModelCompletion{Text: m.text}, nil
}

type stubModelProvider struct {
	mu      sync.Mutex
	prompts []string
	text    func(prompt string) string
	err     error
}

func (p *stubModelProvider) ModelClient(model, systemPrompt string) (reasoning.ModelClient, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, systemPrompt)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	text := systemPrompt
	if p.text != nil {
		text = p.text(systemPrompt)
	}
	return &stubModel{text: text}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) Notify(ctx context.Context, channelName, conversationID, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, channelName+"|"+conversationID+"|"+content)
	return nil
}

func TestRunFlow_SingleStep_PersistsResultAndCompletes(t *testing.T) {
	flow := domain.ScheduledFlow{
		ID:        "flow_1",
		OwnerUser: "user1",
		ThreadID:  "telegram:1",
		Name:      "digest",
		Status:    domain.FlowPending,
		Spec: domain.FlowSpec{
			FlowID: "flow_1",
			Name:   "digest",
			Agents: []domain.AgentSpec{
				{AgentID: "summarizer", Model: "claude", SystemPrompt: "summarize", OutputSchema: map[string]any{"type": "object"}},
			},
		},
	}
	store := newFakeFlowStore(flow)
	models := &stubModelProvider{text: func(string) string { return `{"summary":"done"}` }}
	r := New(store, models, tool.New(nil), nil)

	out, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "flow_1")
	require.NoError(t, err)
	assert.Contains(t, out, "summarizer")
	assert.Contains(t, out, `"done"`)
	assert.Equal(t, domain.FlowCompleted, store.flows["flow_1"].Status)
}

func TestRunFlow_NotPending_ReturnsMessageWithoutRunning(t *testing.T) {
	flow := domain.ScheduledFlow{ID: "flow_1", Status: domain.FlowRunning}
	store := newFakeFlowStore(flow)
	models := &stubModelProvider{}
	r := New(store, models, tool.New(nil), nil)

	out, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "flow_1")
	require.NoError(t, err)
	assert.Contains(t, out, "not pending")
	assert.Empty(t, models.prompts)
}

func TestRunFlow_UnknownFlow_ReturnsNotFoundMessage(t *testing.T) {
	store := newFakeFlowStore()
	r := New(store, &stubModelProvider{}, tool.New(nil), nil)

	out, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")
}

func TestRunFlow_SecondStep_ReceivesPreviousOutputSubstitution(t *testing.T) {
	flow := domain.ScheduledFlow{
		ID:     "flow_2",
		Status: domain.FlowPending,
		Spec: domain.FlowSpec{
			Agents: []domain.AgentSpec{
				{AgentID: "draft", SystemPrompt: "write a draft", OutputSchema: map[string]any{"type": "object"}},
				{AgentID: "review", SystemPrompt: "review this: $previous_output", OutputSchema: map[string]any{"type": "object"}},
			},
		},
	}
	store := newFakeFlowStore(flow)
	call := 0
	models := &stubModelProvider{text: func(prompt string) string {
		call++
		if call == 1 {
			return `{"draft":"hello"}`
		}
		return `{"approved":true}`
	}}
	r := New(store, models, tool.New(nil), nil)

	_, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "flow_2")
	require.NoError(t, err)

	require.Len(t, models.prompts, 2)
	assert.Equal(t, "write a draft", models.prompts[0])
	assert.Contains(t, models.prompts[1], "draft")
	assert.Contains(t, models.prompts[1], "hello")
	assert.NotContains(t, models.prompts[1], "$previous_output")
}

func TestRunFlow_StepOutputNotJSON_FailsFlowAndNotifies(t *testing.T) {
	flow := domain.ScheduledFlow{
		ID:       "flow_3",
		ThreadID: "telegram:9",
		Status:   domain.FlowPending,
		Spec: domain.FlowSpec{
			Name:                 "broken",
			NotifyOnFailure:      true,
			NotificationChannels: []string{"telegram"},
			Agents: []domain.AgentSpec{
				{AgentID: "a", OutputSchema: map[string]any{"type": "object"}},
			},
		},
	}
	store := newFakeFlowStore(flow)
	models := &stubModelProvider{text: func(string) string { return "not json at all" }}
	notifier := &fakeNotifier{}
	r := New(store, models, tool.New(nil), notifier)

	_, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "flow_3")
	require.Error(t, err)
	assert.Equal(t, domain.FlowFailed, store.flows["flow_3"].Status)
	require.Len(t, notifier.calls, 1)
	assert.Contains(t, notifier.calls[0], "telegram|telegram:9|Flow failed")
}

func TestRunFlow_NoOutputSchema_WrapsRawText(t *testing.T) {
	flow := domain.ScheduledFlow{
		ID:     "flow_4",
		Status: domain.FlowPending,
		Spec: domain.FlowSpec{
			Agents: []domain.AgentSpec{{AgentID: "a"}},
		},
	}
	store := newFakeFlowStore(flow)
	models := &stubModelProvider{text: func(string) string { return "plain text reply" }}
	r := New(store, models, tool.New(nil), nil)

	out, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "flow_4")
	require.NoError(t, err)

	var parsed flowResult
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed.Results, 1)
	outputMap, ok := parsed.Results[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "plain text reply", outputMap["raw"])
}

func TestRunScheduledFlow_DoesNotTouchStatus(t *testing.T) {
	flow := domain.ScheduledFlow{
		ID:     "flow_5",
		Status: domain.FlowRunning, // pre-claimed by the scheduler
		Spec: domain.FlowSpec{
			Agents: []domain.AgentSpec{{AgentID: "a", OutputSchema: map[string]any{"type": "object"}}},
		},
	}
	store := newFakeFlowStore(flow)
	models := &stubModelProvider{text: func(string) string { return `{"ok":true}` }}
	r := New(store, models, tool.New(nil), nil)

	result, err := r.RunScheduledFlow(context.Background(), flow)
	require.NoError(t, err)
	assert.Contains(t, result, "ok")
	// status is whatever the caller (scheduler) set it to; execute never transitions it itself.
	assert.Equal(t, domain.FlowRunning, store.flows["flow_5"].Status)
}

func TestRunFlow_ModelResolutionFailure_FailsStep(t *testing.T) {
	flow := domain.ScheduledFlow{
		ID:     "flow_6",
		Status: domain.FlowPending,
		Spec: domain.FlowSpec{
			Agents: []domain.AgentSpec{{AgentID: "a", Model: "missing-model"}},
		},
	}
	store := newFakeFlowStore(flow)
	models := &stubModelProvider{err: errors.New("unknown model")}
	r := New(store, models, tool.New(nil), nil)

	_, err := r.RunFlow(tool.CallContext{Context: context.Background()}, "flow_6")
	require.Error(t, err)
	assert.Equal(t, domain.FlowFailed, store.flows["flow_6"].Status)
}

func TestScopedDispatcher_RejectsToolOutsideAllowedSet(t *testing.T) {
	reg := tool.New(nil)
	require.NoError(t, reg.Register("echo", tool.Tool{
		Name: "echo",
		Handler: func(cc tool.CallContext, args map[string]any) (string, error) {
			return "echoed", nil
		},
	}))
	d := &scopedDispatcher{registry: reg, allowed: map[string]bool{"echo": true}}

	cc := tool.CallContext{Context: context.Background()}
	assert.Equal(t, "echoed", d.Dispatch(context.Background(), cc, "c1", "echo", nil))

	out := d.Dispatch(context.Background(), cc, "c2", "create_flow", nil)
	assert.Contains(t, out, "not available")
}

func TestBuildPrompt_NoPlaceholder_ReturnsPromptUnchanged(t *testing.T) {
	got := buildPrompt("a static prompt", map[string]any{"x": 1})
	assert.Equal(t, "a static prompt", got)
}

func TestExtractStructuredOutput_InvalidJSONWithSchema_Errors(t *testing.T) {
	_, err := extractStructuredOutput("no braces here", map[string]any{"type": "object"})
	require.Error(t, err)
}
