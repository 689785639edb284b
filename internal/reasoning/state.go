// Package reasoning implements the per-turn agent state machine (model-call
// -> route -> tools | summarize | end) described by the runtime's reasoning
// loop, adapted from the teacher's pkg/reasoning ownership-model state.
package reasoning

import (
	"strings"

	"github.com/executive-assistant/ken/internal/domain"
)

// NodeKind is the sum type over reasoning-loop states. Transitions are
// exhaustive over these four values.
type NodeKind int

const (
	NodeAgent NodeKind = iota
	NodeTools
	NodeSummarize
	NodeEnd
)

func (k NodeKind) String() string {
	switch k {
	case NodeAgent:
		return "agent"
	case NodeTools:
		return "tools"
	case NodeSummarize:
		return "summarize"
	case NodeEnd:
		return "end"
	default:
		return "unknown"
	}
}

// DefaultMaxIterations bounds agent-node visits per user turn.
const DefaultMaxIterations = 20

// DefaultSummaryThreshold is the message count past which summarization is
// considered, when enabled.
const DefaultSummaryThreshold = 40

// DefaultSummaryKeep is how many of the most recent messages survive a
// summarize node untouched.
const DefaultSummaryKeep = 10

// AgentState holds the per-thread, checkpointed state of one turn of the
// reasoning loop.
//
// OWNERSHIP MODEL (mirrors the teacher's ReasoningState):
//   - The loop runner owns iteration, node, messages, pendingToolCalls,
//     finalResponse (read via accessors, mutated only through the methods
//     below).
//   - Middlewares and tools own CustomState / ToolState with full
//     read-write access.
//   - WorkspaceID/ThreadID/UserID/Channel/Query are immutable for the
//     lifetime of the state.
type AgentState struct {
	// ========== immutable turn context ==========
	WorkspaceID string
	ThreadID    string
	UserID      string
	Channel     string
	Query       string

	// ========== runner-owned fields ==========
	node             NodeKind
	iteration        int
	messages         []domain.Message
	pendingToolCalls []domain.ToolCall
	finalResponse    string
	summary          string
	done             bool

	// ========== middleware/tool-owned scratch state ==========
	CustomState map[string]any
	ToolState   map[string]any

	// MaxIterations and SummaryThreshold/SummaryKeep are configuration,
	// copied in at construction so a running state is self-contained.
	MaxIterations    int
	SummaryThreshold int
	SummaryKeep      int
	SummaryEnabled   bool
}

// NewAgentState builds a fresh state for the start of a turn. history is the
// thread's prior messages (already deduplicated/ordered by the caller); it
// becomes the initial message list that the new user turn is appended to.
func NewAgentState(workspaceID, threadID, userID, channel, query string, history []domain.Message) *AgentState {
	s := &AgentState{
		WorkspaceID:      workspaceID,
		ThreadID:         threadID,
		UserID:           userID,
		Channel:          channel,
		Query:            query,
		node:             NodeAgent,
		messages:         append([]domain.Message{}, history...),
		CustomState:      make(map[string]any),
		ToolState:        make(map[string]any),
		MaxIterations:    DefaultMaxIterations,
		SummaryThreshold: DefaultSummaryThreshold,
		SummaryKeep:      DefaultSummaryKeep,
		SummaryEnabled:   true,
	}
	return s
}

// ---------------------------------------------------------------------
// read-only accessors
// ---------------------------------------------------------------------

func (s *AgentState) Node() NodeKind  { return s.node }
func (s *AgentState) Iteration() int  { return s.iteration }
func (s *AgentState) IsDone() bool    { return s.done }
func (s *AgentState) Summary() string { return s.summary }

// Messages returns a defensive copy of the full message history, including
// the current turn's appended messages.
func (s *AgentState) Messages() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// PendingToolCalls returns a defensive copy of the tool calls produced by
// the most recent agent-node model call, in model-produced order.
func (s *AgentState) PendingToolCalls() []domain.ToolCall {
	out := make([]domain.ToolCall, len(s.pendingToolCalls))
	copy(out, s.pendingToolCalls)
	return out
}

// FinalResponse returns the accumulated assistant-visible response text.
func (s *AgentState) FinalResponse() string { return s.finalResponse }

// ---------------------------------------------------------------------
// mutation methods (runner only)
// ---------------------------------------------------------------------

// AppendMessage appends msg to the message list, deduplicating by
// MessageID: an append whose MessageID already exists is a no-op, so the
// reducer is safe to call more than once for the same logical message
// (e.g. after a checkpoint-resume replay).
func (s *AgentState) AppendMessage(msg domain.Message) {
	if msg.MessageID != "" {
		for _, existing := range s.messages {
			if existing.MessageID == msg.MessageID {
				return
			}
		}
	}
	s.messages = append(s.messages, msg)
}

// SetPendingToolCalls records the tool calls produced by the latest agent
// node, in the order the model produced them.
func (s *AgentState) SetPendingToolCalls(calls []domain.ToolCall) {
	s.pendingToolCalls = append([]domain.ToolCall{}, calls...)
}

// ClearPendingToolCalls drops the recorded tool calls once the tools node
// has executed them.
func (s *AgentState) ClearPendingToolCalls() {
	s.pendingToolCalls = nil
}

// AppendResponse accumulates assistant-visible text across iterations (a
// single turn may produce interleaved thinking/tool/response segments).
func (s *AgentState) AppendResponse(text string) {
	if text == "" {
		return
	}
	var b strings.Builder
	b.WriteString(s.finalResponse)
	b.WriteString(text)
	s.finalResponse = b.String()
}

// SetSummary records the structured summary produced by a summarize node.
func (s *AgentState) SetSummary(summary string) {
	s.summary = summary
}

// ReplaceWithSummary drops all but the last keep messages, prefixing the
// retained tail with a single synthetic system message carrying summary.
// This is the C4 "summarize" node's state transformation.
func (s *AgentState) ReplaceWithSummary(summary string, keep int) {
	s.summary = summary
	if keep < 0 {
		keep = 0
	}
	tail := s.messages
	if len(tail) > keep {
		tail = tail[len(tail)-keep:]
	}
	summaryMsg := domain.Message{
		Role:    "system",
		Content: "Conversation summary: " + summary,
	}
	s.messages = append([]domain.Message{summaryMsg}, tail...)
}

// ElideOldToolContent blanks the Content of all but the most recent keep
// tool-role messages, preserving every human/assistant message untouched.
// This is the mutation ContextEditingMW (C5) applies once a turn's
// estimated token count crosses its trigger threshold.
func (s *AgentState) ElideOldToolContent(keep int) {
	if keep < 0 {
		keep = 0
	}
	toolIdx := make([]int, 0)
	for i, m := range s.messages {
		if m.Role == "tool" {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= keep {
		return
	}
	for _, i := range toolIdx[:len(toolIdx)-keep] {
		s.messages[i].Content = "[elided: tool output removed to free context]"
	}
}

// NextIteration advances the iteration counter. Only the agent node calls
// this; tool execution does not consume an iteration.
func (s *AgentState) NextIteration() int {
	s.iteration++
	return s.iteration
}

// SetNode transitions the state machine to kind.
func (s *AgentState) SetNode(kind NodeKind) {
	s.node = kind
	if kind == NodeEnd {
		s.done = true
	}
}

// MessageCount is the number of messages currently held, used by the
// router to decide whether summarization is due.
func (s *AgentState) MessageCount() int {
	return len(s.messages)
}
