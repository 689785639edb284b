package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/storage"
)

type fakeFlowStore struct {
	storage.RelationalStore
	flows map[string]domain.ScheduledFlow
}

func newFakeFlowStore() *fakeFlowStore {
	return &fakeFlowStore{flows: map[string]domain.ScheduledFlow{}}
}

func (f *fakeFlowStore) CreateScheduledFlow(ctx context.Context, flow domain.ScheduledFlow) error {
	f.flows[flow.ID] = flow
	return nil
}

func (f *fakeFlowStore) GetFlow(ctx context.Context, id string) (domain.ScheduledFlow, bool, error) {
	flow, ok := f.flows[id]
	return flow, ok, nil
}

func (f *fakeFlowStore) TransitionFlow(ctx context.Context, id string, from, to domain.FlowStatus, result, errMsg string) (bool, error) {
	flow, ok := f.flows[id]
	if !ok || flow.Status != from {
		return false, nil
	}
	flow.Status = to
	flow.Result = result
	flow.Error = errMsg
	f.flows[id] = flow
	return true, nil
}

type fakeFlowRunner struct{ ran []string }

func (f *fakeFlowRunner) RunFlow(cc CallContext, flowID string) (string, error) {
	f.ran = append(f.ran, flowID)
	return "ok: " + flowID, nil
}

func TestFlowTools_CreateStatusCancel(t *testing.T) {
	store := newFakeFlowStore()
	runner := &fakeFlowRunner{}
	loop := NewLoopBreakBuffer(time.Minute)
	r := New(loop)
	require.NoError(t, RegisterFlowTools(r, store, runner))

	cc := CallContext{Context: context.Background(), WorkspaceID: "ws1", ThreadID: "thread1", UserID: "u1", Channel: "telegram"}

	out := r.Dispatch(context.Background(), cc, "call-1", "create_flow", map[string]any{
		"name":        "daily digest",
		"description": "summarize inbox",
		"agents": []any{
			map[string]any{"agent_id": "summarizer", "tools": []any{"read_file"}},
		},
	})
	assert.Contains(t, out, "Flow created:")
	require.Len(t, store.flows, 1)

	var flowID string
	for id := range store.flows {
		flowID = id
	}

	statusOut := r.Dispatch(context.Background(), cc, "call-2", "flow_status", map[string]any{"flow_id": flowID})
	assert.Contains(t, statusOut, "pending")

	runOut := r.Dispatch(context.Background(), cc, "call-3", "run_flow", map[string]any{"flow_id": flowID})
	assert.Contains(t, runOut, "ok: "+flowID)
	assert.Equal(t, []string{flowID}, runner.ran)

	cancelOut := r.Dispatch(context.Background(), cc, "call-4", "cancel_flow", map[string]any{"flow_id": flowID})
	assert.Contains(t, cancelOut, "cancelled")
	assert.Equal(t, domain.FlowCancelled, store.flows[flowID].Status)
}

func TestFlowTools_CreateFlowRejectsForbiddenToolInStep(t *testing.T) {
	store := newFakeFlowStore()
	loop := NewLoopBreakBuffer(time.Minute)
	r := New(loop)
	require.NoError(t, RegisterFlowTools(r, store, nil))

	cc := CallContext{Context: context.Background(), WorkspaceID: "ws1", ThreadID: "thread1", UserID: "u1"}
	out := r.Dispatch(context.Background(), cc, "call-1", "create_flow", map[string]any{
		"name":        "recursive",
		"description": "nope",
		"agents": []any{
			map[string]any{"agent_id": "a", "tools": []any{"create_flow"}},
		},
	})
	assert.Contains(t, out, "may not use flow management tools")
	assert.Empty(t, store.flows)
}
