// Package middleware composes around the C4 reasoning loop with fixed-order
// hooks (before_model, wrap_model_call, after_model, before_tools/
// after_tools, after_agent), grounded on the teacher's decorator-style
// HTTP/model-client middlewares (pkg/observability/middleware.go,
// pkg/ratelimit/middleware.go, and goadesign-goa-ai's
// features/model/middleware/ratelimit.go limitedClient wrapping
// model.Client) adapted from func(http.Handler) http.Handler chains into
// func(reasoning.ModelClient) reasoning.ModelClient and a per-call
// tool-dispatch decorator chain.
package middleware

import (
	"context"

	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

// ModelFunc is the "rest of the chain" a WrapModel hook may call.
type ModelFunc func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error)

// ToolFunc is the "rest of the chain" a WrapTool hook may call. Because
// reasoning.Loop dispatches tool calls one at a time (grounded on the
// teacher's iterator-based agent.Run), before_tools/after_tools are
// expressed as the code a middleware runs before/after calling next,
// rather than as separate batch-level hooks.
type ToolFunc func(ctx context.Context, callID, name string, args map[string]any) string

// Middleware is the hook set a C5 middleware may implement. Embed Base to
// no-op the hooks a given middleware doesn't care about.
//
// Composition contract (spec.md §4.5): each hook is side-effect-free on
// entry; mutation happens only through the explicit next()/return value. A
// middleware that wants to short-circuit simply returns without calling
// next.
type Middleware interface {
	Name() string
	BeforeModel(ctx context.Context, state *reasoning.AgentState) error
	WrapModel(ctx context.Context, state *reasoning.AgentState, next ModelFunc) (reasoning.ModelCompletion, error)
	AfterModel(ctx context.Context, state *reasoning.AgentState, completion *reasoning.ModelCompletion)
	WrapTool(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any, next ToolFunc) string
	AfterAgent(ctx context.Context, state *reasoning.AgentState)
}

// Base no-ops every hook.
type Base struct{}

func (Base) Name() string { return "base" }

func (Base) BeforeModel(ctx context.Context, state *reasoning.AgentState) error { return nil }

func (Base) WrapModel(ctx context.Context, state *reasoning.AgentState, next ModelFunc) (reasoning.ModelCompletion, error) {
	return next(ctx, state)
}

func (Base) AfterModel(ctx context.Context, state *reasoning.AgentState, completion *reasoning.ModelCompletion) {
}

func (Base) WrapTool(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any, next ToolFunc) string {
	return next(ctx, callID, name, args)
}

func (Base) AfterAgent(ctx context.Context, state *reasoning.AgentState) {}

// Pipeline composes an ordered list of middlewares around an inner
// ModelClient and ToolDispatcher, and itself implements both interfaces so
// it drops straight into reasoning.Loop (reasoning never imports this
// package). Order is fixed at construction time, per spec.md §4.5.
type Pipeline struct {
	middlewares []Middleware
	model       reasoning.ModelClient
	tools       reasoning.ToolDispatcher
	cc          tool.CallContext
}

// NewPipeline builds a Pipeline. cc is the call context threaded through to
// every WrapTool hook (the tools-node dispatch boundary has no AgentState,
// only CallContext, so per-call middlewares key off cc.ThreadID etc. rather
// than full state).
func NewPipeline(model reasoning.ModelClient, tools reasoning.ToolDispatcher, cc tool.CallContext, middlewares ...Middleware) *Pipeline {
	return &Pipeline{middlewares: middlewares, model: model, tools: tools, cc: cc}
}

// Complete implements reasoning.ModelClient: BeforeModel (all, in order) ->
// WrapModel chain (outermost = middlewares[0]) -> AfterModel (all, in
// order).
func (p *Pipeline) Complete(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
	for _, mw := range p.middlewares {
		if err := mw.BeforeModel(ctx, state); err != nil {
			return reasoning.ModelCompletion{}, err
		}
	}

	chain := func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
		return p.model.Complete(ctx, state)
	}
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		mw := p.middlewares[i]
		next := chain
		chain = func(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
			return mw.WrapModel(ctx, state, next)
		}
	}

	completion, err := chain(ctx, state)
	if err != nil {
		return completion, err
	}

	for _, mw := range p.middlewares {
		mw.AfterModel(ctx, state, &completion)
	}
	return completion, nil
}

// Dispatch implements reasoning.ToolDispatcher: each call passes through
// every middleware's WrapTool, outermost-first, before reaching the
// wrapped tool.Registry.
func (p *Pipeline) Dispatch(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any) string {
	chain := func(ctx context.Context, callID, name string, args map[string]any) string {
		return p.tools.Dispatch(ctx, cc, callID, name, args)
	}
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		mw := p.middlewares[i]
		next := chain
		chain = func(ctx context.Context, callID, name string, args map[string]any) string {
			return mw.WrapTool(ctx, cc, callID, name, args, next)
		}
	}
	return chain(ctx, callID, name, args)
}

// AfterAgent runs once the loop reaches NodeEnd. Wire this by calling it
// yourself right after loop.Run returns; reasoning.Loop has no after_agent
// hook of its own since that hook belongs to the layer wrapping C4, not C4
// itself.
func (p *Pipeline) AfterAgent(ctx context.Context, state *reasoning.AgentState) {
	for _, mw := range p.middlewares {
		mw.AfterAgent(ctx, state)
	}
}
