package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/storage"
	"github.com/google/uuid"
)

// snapshot is the JSON-serializable projection of AgentState persisted by
// the Checkpointer. It intentionally excludes CustomState/ToolState:
// middleware- and tool-owned scratch data does not survive a crash, only
// the conversation and routing state needed to resume the loop.
type snapshot struct {
	WorkspaceID      string             `json:"workspace_id"`
	ThreadID         string             `json:"thread_id"`
	UserID           string             `json:"user_id"`
	Channel          string             `json:"channel"`
	Query            string             `json:"query"`
	Node             NodeKind           `json:"node"`
	Iteration        int                `json:"iteration"`
	Messages         []domain.Message   `json:"messages"`
	PendingToolCalls []domain.ToolCall  `json:"pending_tool_calls"`
	FinalResponse    string             `json:"final_response"`
	Summary          string             `json:"summary"`
	MaxIterations    int                `json:"max_iterations"`
	SummaryThreshold int                `json:"summary_threshold"`
	SummaryKeep      int                `json:"summary_keep"`
	SummaryEnabled   bool               `json:"summary_enabled"`
}

// Checkpointer persists AgentState snapshots keyed by thread_id (the
// workspace is carried inside the snapshot), grounded on the teacher's checkpoint.Manager/Storage split.
// Unlike the teacher (and the original_source Postgres/MemorySaver split,
// which silently falls back to in-memory checkpoints when Postgres isn't
// reachable), this Checkpointer has exactly one backend: RelationalStore.
// There is no implicit memory fallback — per REDESIGN FLAGS, the
// relational store is authoritative.
type Checkpointer struct {
	store storage.RelationalStore
}

func NewCheckpointer(store storage.RelationalStore) *Checkpointer {
	return &Checkpointer{store: store}
}

// Save persists state under a new checkpoint id. Writes are atomic at the
// RelationalStore layer (transactional UPSERT); a failed Save leaves the
// previously-saved checkpoint intact, never a half-written one.
func (c *Checkpointer) Save(ctx context.Context, state *AgentState) error {
	snap := snapshot{
		WorkspaceID:      state.WorkspaceID,
		ThreadID:         state.ThreadID,
		UserID:           state.UserID,
		Channel:          state.Channel,
		Query:            state.Query,
		Node:             state.node,
		Iteration:        state.iteration,
		Messages:         state.messages,
		PendingToolCalls: state.pendingToolCalls,
		FinalResponse:    state.finalResponse,
		Summary:          state.summary,
		MaxIterations:    state.MaxIterations,
		SummaryThreshold: state.SummaryThreshold,
		SummaryKeep:      state.SummaryKeep,
		SummaryEnabled:   state.SummaryEnabled,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	checkpointID := uuid.NewString()
	if err := c.store.SaveCheckpoint(ctx, state.ThreadID, checkpointID, data); err != nil {
		return fmt.Errorf("save checkpoint for thread %s: %w", state.ThreadID, err)
	}
	return nil
}

// SaveBestEffort saves state and logs, rather than returns, any error. Used
// at transition points where a checkpoint failure must not abort the turn
// the user is waiting on.
func (c *Checkpointer) SaveBestEffort(ctx context.Context, state *AgentState) {
	if err := c.Save(ctx, state); err != nil {
		slog.Warn("reasoning: checkpoint save failed",
			"thread_id", state.ThreadID, "node", state.Node(), "error", err)
	}
}

// Resume loads the latest checkpoint for threadID, if any, and rebuilds an
// AgentState positioned at the node it was persisted at. The caller resumes
// the loop from that node: on restart, the reasoning loop must re-enter at
// the last persisted node, not at "agent".
func (c *Checkpointer) Resume(ctx context.Context, threadID string) (*AgentState, bool, error) {
	data, _, ok, err := c.store.LoadLatestCheckpoint(ctx, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint for thread %s: %w", threadID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal checkpoint for thread %s: %w", threadID, err)
	}
	state := &AgentState{
		WorkspaceID:      snap.WorkspaceID,
		ThreadID:         snap.ThreadID,
		UserID:           snap.UserID,
		Channel:          snap.Channel,
		Query:            snap.Query,
		node:             snap.Node,
		iteration:        snap.Iteration,
		messages:         snap.Messages,
		pendingToolCalls: snap.PendingToolCalls,
		finalResponse:    snap.FinalResponse,
		summary:          snap.Summary,
		CustomState:      make(map[string]any),
		ToolState:        make(map[string]any),
		MaxIterations:    snap.MaxIterations,
		SummaryThreshold: snap.SummaryThreshold,
		SummaryKeep:      snap.SummaryKeep,
		SummaryEnabled:   snap.SummaryEnabled,
	}
	if state.node == NodeEnd {
		state.done = true
	}
	return state, true, nil
}
