package reasoning

import (
	"context"
	"fmt"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/tool"
)

// ModelCompletion is what a single agent-node model call produces: either
// assistant-visible text, a set of tool calls to execute next, or both (a
// model may emit thinking/commentary alongside a tool_calls block).
type ModelCompletion struct {
	Text      string
	ToolCalls []domain.ToolCall
}

// ModelClient is the narrow surface the reasoning loop needs from an LLM
// provider. internal/llm implements this; defined here (rather than
// imported from internal/llm) so internal/reasoning never depends on a
// concrete provider package. It takes the full AgentState (not just the
// message slice) so that a middleware.Pipeline wrapping a ModelClient can
// read iteration counts, thread/user identity, and CustomState when
// deciding whether to inject memories/instincts or enforce call limits.
type ModelClient interface {
	Complete(ctx context.Context, state *AgentState) (ModelCompletion, error)
}

// ToolDispatcher is the narrow surface the reasoning loop needs to execute
// one tool call. *tool.Registry implements it directly; a
// middleware.Pipeline can wrap one ToolDispatcher in another (retry, call
// limits, loop-breaking) without internal/reasoning depending on
// internal/middleware.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any) string
}

// Summarizer condenses a message history into the structured summary text
// the summarize node persists in place of the raw messages.
type Summarizer interface {
	Summarize(ctx context.Context, messages []domain.Message) (string, error)
}

// Loop drives one AgentState through the C4 state machine: agent -> (tools
// -> agent) | summarize -> end, grounded on the teacher's iterator-based
// agent.Run and original_source's route_agent/create_react_graph.
type Loop struct {
	Model        ModelClient
	Tools        ToolDispatcher
	Summarizer   Summarizer
	Checkpointer *Checkpointer
}

func NewLoop(model ModelClient, tools ToolDispatcher, summarizer Summarizer, checkpointer *Checkpointer) *Loop {
	return &Loop{Model: model, Tools: tools, Summarizer: summarizer, Checkpointer: checkpointer}
}

// Run executes state until it reaches NodeEnd or ctx is cancelled. It
// returns the final state; the caller reads FinalResponse()/Summary() off
// it. A cancellation that lands mid-tools still records whatever tool
// results were produced before the signal arrived, per the cancellation
// invariant: results, once produced, are always recorded.
func (l *Loop) Run(ctx context.Context, cc tool.CallContext, state *AgentState) (*AgentState, error) {
	for !state.IsDone() {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		default:
		}

		switch state.Node() {
		case NodeAgent:
			if err := l.runAgentNode(ctx, state); err != nil {
				return state, err
			}
		case NodeTools:
			l.runToolsNode(ctx, cc, state)
			state.SetNode(NodeAgent)
		case NodeSummarize:
			l.runSummarizeNode(ctx, state)
			state.SetNode(NodeEnd)
		case NodeEnd:
			state.done = true
		}

		if l.Checkpointer != nil {
			l.Checkpointer.SaveBestEffort(ctx, state)
		}
	}
	return state, nil
}

// runAgentNode calls the model, records its output, and routes to the next
// node per the fixed tie-break order: tool-call presence first, then
// iteration-limit, then summarization, then end.
func (l *Loop) runAgentNode(ctx context.Context, state *AgentState) error {
	iteration := state.NextIteration()

	if iteration > state.MaxIterations {
		state.AppendMessage(domain.Message{Role: "assistant", Content: "iteration limit reached"})
		state.AppendResponse("iteration limit reached")
		state.SetNode(NodeEnd)
		return nil
	}

	completion, err := l.Model.Complete(ctx, state)
	if err != nil {
		return fmt.Errorf("reasoning: model call failed at iteration %d: %w", iteration, err)
	}

	msg := domain.Message{Role: "assistant", Content: completion.Text, ToolCalls: completion.ToolCalls}
	state.AppendMessage(msg)
	if completion.Text != "" {
		state.AppendResponse(completion.Text)
	}

	state.route(completion.ToolCalls)
	return nil
}

// route implements the fixed tie-break order described in the spec:
// tool-call presence > summarization > end.
func (s *AgentState) route(toolCalls []domain.ToolCall) {
	if len(toolCalls) > 0 {
		s.SetPendingToolCalls(toolCalls)
		s.SetNode(NodeTools)
		return
	}
	if s.SummaryEnabled && s.MessageCount() >= s.SummaryThreshold {
		s.SetNode(NodeSummarize)
		return
	}
	s.SetNode(NodeEnd)
}

// runToolsNode executes every pending tool call, in model-produced order,
// within this single model turn, appending one tool-result message per
// call using the same call ID.
func (l *Loop) runToolsNode(ctx context.Context, cc tool.CallContext, state *AgentState) {
	calls := state.PendingToolCalls()
	for _, call := range calls {
		result := l.Tools.Dispatch(ctx, cc, call.ID, call.Name, call.Arguments)
		state.AppendMessage(domain.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	state.ClearPendingToolCalls()
}

// runSummarizeNode replaces all but the last SummaryKeep messages with a
// generated structured summary.
func (l *Loop) runSummarizeNode(ctx context.Context, state *AgentState) {
	if l.Summarizer == nil {
		return
	}
	summary, err := l.Summarizer.Summarize(ctx, state.Messages())
	if err != nil {
		// Summarization is best-effort: a failed summary should not abort
		// the turn, it just means the next turn carries a longer history.
		return
	}
	state.ReplaceWithSummary(summary, state.SummaryKeep)
}
