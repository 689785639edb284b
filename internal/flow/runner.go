// Package flow implements the Flow Runner (C8): sequential multi-agent
// execution of a FlowSpec, one reasoning.Loop invocation per AgentSpec
// step, each step's output substituted into the next step's prompt.
// Grounded on the teacher's pkg/agent/workflowagent/sequential.go (a
// LoopAgent with MaxIterations=1 running its sub-agents once, in order)
// and original_source/src/executive_assistant/flows/runner.py, which this
// package follows closely for prompt substitution, output-schema carving,
// and the final {"results": [...]} payload shape.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/logctx"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/storage"
	"github.com/executive-assistant/ken/internal/tool"
)

// flowToolNames are the flow-management tools a step's own tool list may
// not include, mirroring tool.flowToolNames and the Python original's
// FLOW_TOOL_NAMES — both guard against a flow step recursively scheduling
// or running flows.
var flowToolNames = map[string]bool{
	"create_flow": true, "list_flows": true, "run_flow": true,
	"cancel_flow": true, "delete_flow": true, "flow_status": true,
}

// ModelProvider resolves the reasoning.ModelClient for a step's declared
// model and system prompt. internal/llm implements this; defined locally
// so internal/flow never imports a concrete provider package.
type ModelProvider interface {
	ModelClient(model, systemPrompt string) (reasoning.ModelClient, error)
}

// Notifier delivers a flow-completion/failure notice to a channel by name,
// addressed to a conversation. cmd/ken's channelRegistry implements this
// by calling the named channel's Send directly; defined locally
// to avoid internal/flow importing internal/channel.
type Notifier interface {
	Notify(ctx context.Context, channelName, conversationID, content string) error
}

// Runner executes ScheduledFlows. It satisfies both tool.FlowRunner (the
// run_flow tool's immediate-execution path) and scheduler.FlowRunner (the
// ticker's due-flow path).
type Runner struct {
	Store    storage.RelationalStore
	Models   ModelProvider
	Tools    *tool.Registry
	Notifier Notifier
}

// New builds a Runner. notifier may be nil, in which case notify_on_*
// settings are silently ignored (no channels configured).
func New(store storage.RelationalStore, models ModelProvider, tools *tool.Registry, notifier Notifier) *Runner {
	return &Runner{Store: store, Models: models, Tools: tools, Notifier: notifier}
}

// RunFlow implements tool.FlowRunner: it claims flowID for immediate
// execution (even if not yet due), runs it, and finalizes its own status
// transition, since — unlike the scheduler's due-flow path — nothing else
// has claimed it first.
func (r *Runner) RunFlow(cc tool.CallContext, flowID string) (string, error) {
	ctx := cc.Context
	f, ok, err := r.Store.GetFlow(ctx, flowID)
	if err != nil {
		return "", fmt.Errorf("run_flow: look up flow %s: %w", flowID, err)
	}
	if !ok {
		return fmt.Sprintf("Flow %s not found.", flowID), nil
	}

	claimed, err := r.Store.TransitionFlow(ctx, f.ID, domain.FlowPending, domain.FlowRunning, "", "")
	if err != nil {
		return "", fmt.Errorf("run_flow: claim flow %s: %w", flowID, err)
	}
	if !claimed {
		return fmt.Sprintf("Flow %s is not pending (current status may already be running, completed, or cancelled).", flowID), nil
	}

	result, runErr := r.execute(ctx, f)
	if runErr != nil {
		if _, tErr := r.Store.TransitionFlow(ctx, f.ID, domain.FlowRunning, domain.FlowFailed, "", runErr.Error()); tErr != nil {
			logctx.From(ctx).Error("flow: mark failed transition failed", "flow_id", f.ID, "error", tErr)
		}
		return "", fmt.Errorf("run_flow: %w", runErr)
	}
	if _, tErr := r.Store.TransitionFlow(ctx, f.ID, domain.FlowRunning, domain.FlowCompleted, result, ""); tErr != nil {
		logctx.From(ctx).Error("flow: mark completed transition failed", "flow_id", f.ID, "error", tErr)
	}
	return result, nil
}

// RunScheduledFlow implements scheduler.FlowRunner: f has already been
// claimed (pending->running) by the caller, which also owns the terminal
// transition once this returns.
func (r *Runner) RunScheduledFlow(ctx context.Context, f domain.ScheduledFlow) (string, error) {
	return r.execute(ctx, f)
}

// execute runs every AgentSpec step in order, substituting accumulated
// prior outputs into each step's prompt, and fires completion/failure
// notifications. It never touches f's persisted Status — callers own the
// claim and the terminal transition.
func (r *Runner) execute(ctx context.Context, f domain.ScheduledFlow) (string, error) {
	spec := f.Spec
	previousOutputs := make(map[string]any, len(spec.Agents))
	results := make([]stepResult, 0, len(spec.Agents))

	for _, step := range spec.Agents {
		output, err := r.runStep(ctx, f, step, previousOutputs)
		if err != nil {
			r.notify(ctx, spec, f.ThreadID, spec.NotifyOnFailure, fmt.Sprintf("Flow failed: %s (step %s: %v)", spec.Name, step.AgentID, err))
			return "", fmt.Errorf("step %s: %w", step.AgentID, err)
		}
		previousOutputs[step.AgentID] = output
		results = append(results, stepResult{AgentID: step.AgentID, Status: "success", Output: output})
	}

	payload, err := json.Marshal(flowResult{Results: results})
	if err != nil {
		return "", fmt.Errorf("marshal flow result: %w", err)
	}
	result := string(payload)

	r.notify(ctx, spec, f.ThreadID, spec.NotifyOnComplete, fmt.Sprintf("Flow completed: %s", spec.Name))
	return result, nil
}

type stepResult struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Output  any    `json:"output"`
}

type flowResult struct {
	Results []stepResult `json:"results"`
}

// runStep runs one AgentSpec step to completion via a fresh, single-use
// reasoning.Loop and returns its carved structured output.
func (r *Runner) runStep(ctx context.Context, f domain.ScheduledFlow, step domain.AgentSpec, previousOutputs map[string]any) (any, error) {
	prompt := buildPrompt(step.SystemPrompt, previousOutputs)

	model, err := r.Models.ModelClient(step.Model, prompt)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", step.Model, err)
	}

	allowed := make(map[string]bool, len(step.Tools))
	for _, name := range step.Tools {
		if flowToolNames[name] {
			continue
		}
		allowed[name] = true
	}
	dispatcher := &scopedDispatcher{registry: r.Tools, allowed: allowed}

	cc := tool.CallContext{
		Context:     ctx,
		WorkspaceID: f.OwnerUser,
		ThreadID:    f.ThreadID,
		UserID:      f.OwnerUser,
		Channel:     "flow",
	}

	state := reasoning.NewAgentState(f.OwnerUser, f.ThreadID, f.OwnerUser, "flow", "Execute your task.", nil)
	state.SummaryEnabled = false
	state.AppendMessage(domain.Message{Role: "user", Content: "Execute your task."})

	loop := reasoning.NewLoop(model, dispatcher, nil, nil)
	final, err := loop.Run(ctx, cc, state)
	if err != nil {
		return nil, fmt.Errorf("run agent %s: %w", step.AgentID, err)
	}

	return extractStructuredOutput(final.FinalResponse(), step.OutputSchema)
}

// buildPrompt substitutes $previous_output with a JSON dump of every prior
// step's output, keyed by agent_id, mirroring the Python original's
// _build_prompt.
func buildPrompt(systemPrompt string, previousOutputs map[string]any) string {
	if len(previousOutputs) == 0 || !strings.Contains(systemPrompt, "$previous_output") {
		return systemPrompt
	}
	data, err := json.MarshalIndent(previousOutputs, "", "  ")
	if err != nil {
		return systemPrompt
	}
	return strings.ReplaceAll(systemPrompt, "$previous_output", string(data))
}

// extractStructuredOutput carves the span from the first `{` to the last
// `}` out of content and unmarshals it, mirroring the Python original's
// _extract_structured_output. A step with no output_schema returns its
// raw text wrapped as {"raw": content}; a step with a schema that fails to
// parse fails the step (and therefore the flow), matching the original's
// ValueError behavior rather than silently degrading.
func extractStructuredOutput(content string, schema map[string]any) (any, error) {
	if len(schema) == 0 {
		return map[string]any{"raw": content}, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("agent output did not contain a JSON payload")
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("agent output did not contain valid JSON payload: %w", err)
	}
	return parsed, nil
}

func (r *Runner) notify(ctx context.Context, spec domain.FlowSpec, conversationID string, enabled bool, content string) {
	if !enabled || r.Notifier == nil {
		return
	}
	for _, channel := range spec.NotificationChannels {
		if err := r.Notifier.Notify(ctx, channel, conversationID, content); err != nil {
			logctx.From(ctx).Error("flow: notify failed", "channel", channel, "error", err)
		}
	}
}

// scopedDispatcher restricts tool dispatch to a step's declared tool
// subset, defensively re-excluding flow-management tools even if a stored
// FlowSpec somehow carries one (create_flow already rejects these at
// creation time; this is the belt for that suspenders).
type scopedDispatcher struct {
	registry *tool.Registry
	allowed  map[string]bool
}

func (d *scopedDispatcher) Dispatch(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any) string {
	if !d.allowed[name] {
		return fmt.Sprintf("Error: tool %q is not available to this flow step", name)
	}
	return d.registry.Dispatch(ctx, cc, callID, name, args)
}
