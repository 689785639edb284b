package main

import (
	"context"
	"fmt"
	"io"

	"github.com/executive-assistant/ken/internal/channel"
	"github.com/executive-assistant/ken/internal/config"
	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/identity"
	"github.com/executive-assistant/ken/internal/llm"
	"github.com/executive-assistant/ken/internal/logctx"
	"github.com/executive-assistant/ken/internal/memory"
	"github.com/executive-assistant/ken/internal/middleware"
	"github.com/executive-assistant/ken/internal/observability"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/storage"
	"github.com/executive-assistant/ken/internal/tool"
)

// baseSystemPrompt is the fixed instruction every turn's model call
// carries, ahead of the per-turn memory/instinct blocks
// effectiveSystemPrompt (internal/llm) appends.
const baseSystemPrompt = "You are a helpful executive assistant. Use the tools available to you " +
	"to manage the user's reminders, files, tables, knowledge base, and scheduled flows. " +
	"Be concise and direct."

// onboardingSystemPrompt is appended ahead of the user's message on the
// first turn after a `/reset all` (storage.HasForceOnboardingMarker),
// re-running the workspace setup the original onboarding flow performs on
// a brand-new thread (executive_assistant's onboarding.md flow, not
// carried into this module's filtered original_source).
const onboardingSystemPrompt = "This workspace was just reset to a clean slate. Before anything else, " +
	"walk the user back through onboarding: introduce yourself, ask their name and preferred " +
	"communication style, and what they'd like help managing day to day. Record what you learn " +
	"as memories/instincts so future turns don't have to ask again."

// agentRunner implements channel.AgentRunner (C6's seam into C1->C2->C5->C4),
// composing every wired component into one per-message turn.
type agentRunner struct {
	cfg          *config.Config
	identity     *identity.Resolver
	store        storage.RelationalStore
	router       *storage.Router
	cache        *storage.ConnCache
	tools        *tool.Registry
	loopBreak    *tool.LoopBreakBuffer
	models       *llm.Registry
	checkpointer *reasoning.Checkpointer
	metrics      *observability.Metrics
}

// memoryStoreFor returns (opening and caching on first use) the
// workspace-scoped memory.Store backing both memory and instinct lookups,
// with its semantic index wired to whichever backend cfg.Memory selects.
func (a *agentRunner) memoryStoreFor(workspaceID string) (*memory.Store, error) {
	h, err := a.cache.GetOrOpen(storage.CacheKey(workspaceID, "mem"), func() (io.Closer, error) {
		paths, err := a.router.Resolve(workspaceID)
		if err != nil {
			return nil, err
		}
		store, err := memory.Open(paths.MemoryDB)
		if err != nil {
			return nil, err
		}
		if err := a.wireVectorIndex(store, workspaceID, paths.VectorDB); err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return h.(*memory.Store), nil
}

// wireVectorIndex sets store.Vector to the semantic index backend
// cfg.Memory.VectorBackend selects: an embedded chromem-go database rooted
// at dir for "chromem" (the default, one per workspace), or a collection on
// one shared remote Qdrant server for "qdrant", partitioned per workspace by
// collection name.
func (a *agentRunner) wireVectorIndex(store *memory.Store, workspaceID, dir string) error {
	if a.cfg.Memory.VectorBackend == "qdrant" {
		q := a.cfg.Memory.Qdrant
		idx, err := memory.OpenQdrantIndex(q.Host, q.Port, q.APIKey, q.UseTLS, "memories_"+workspaceID, a.models)
		if err != nil {
			return err
		}
		store.Vector = idx
		return nil
	}
	idx, err := memory.OpenVectorIndex(dir, a.models)
	if err != nil {
		return err
	}
	store.Vector = idx
	return nil
}

// Run implements channel.AgentRunner.
func (a *agentRunner) Run(ctx context.Context, msg domain.Message, progress channel.ProgressFunc) (string, error) {
	workspaceID, err := a.identity.BindThread(ctx, msg.ConversationID, msg.UserID)
	if err != nil {
		return "", fmt.Errorf("runner: bind thread: %w", err)
	}

	memStore, err := a.memoryStoreFor(workspaceID)
	if err != nil {
		logctx.From(ctx).Warn("runner: memory store unavailable, continuing without memory/instincts", "error", err)
	}

	forceOnboarding, err := storage.HasForceOnboardingMarker(a.router, workspaceID)
	if err != nil {
		logctx.From(ctx).Warn("runner: force-onboarding marker check failed", "error", err)
	}

	state, resumed, err := a.checkpointer.Resume(ctx, msg.ConversationID)
	if err != nil {
		logctx.From(ctx).Warn("runner: checkpoint resume failed, starting fresh", "error", err)
	}
	if !resumed || state == nil || state.IsDone() || forceOnboarding {
		state = reasoning.NewAgentState(workspaceID, msg.ConversationID, msg.UserID, msg.Metadata.Channel, msg.Content, nil)
	}
	if forceOnboarding {
		state.CustomState["onboarding_notice"] = onboardingSystemPrompt
		if err := storage.ClearForceOnboardingMarker(a.router, workspaceID); err != nil {
			logctx.From(ctx).Warn("runner: clearing force-onboarding marker failed", "error", err)
		}
	}
	state.AppendMessage(msg)
	state.SetNode(reasoning.NodeAgent)

	model, err := a.models.ModelClient(a.cfg.LLM.DefaultModel, baseSystemPrompt)
	if err != nil {
		return "", fmt.Errorf("runner: model client: %w", err)
	}

	cc := tool.CallContext{Context: ctx, WorkspaceID: workspaceID, ThreadID: msg.ConversationID, UserID: msg.UserID, Channel: msg.Metadata.Channel}

	pipeline := a.buildPipeline(model, memStore)

	summarizer, err := a.models.Summarizer(a.cfg.LLM.DefaultModel)
	if err != nil {
		logctx.From(ctx).Warn("runner: summarizer unavailable, summarization disabled", "error", err)
		summarizer = nil
	}

	loop := reasoning.NewLoop(pipeline, pipeline, summarizer, a.checkpointer)
	final, err := loop.Run(ctx, cc, state)
	if err != nil {
		return "", fmt.Errorf("runner: reasoning loop: %w", err)
	}

	a.recordProgressNoop(progress)
	if a.metrics != nil {
		a.metrics.RecordAgentTurn(msg.Metadata.Channel, 0)
	}
	return final.FinalResponse(), nil
}

// recordProgressNoop accepts the channel.AgentRunner progress callback and
// discards it. No per-tool progress update reaches the channel during a
// turn: the callback is never invoked, and only the final response is
// delivered.
func (a *agentRunner) recordProgressNoop(progress channel.ProgressFunc) {
	_ = progress
}

// buildPipeline composes the fixed-order C5 middleware chain around model
// and the shared tool registry, grounded on spec.md §4.5's hook ordering:
// limits/retry/loop-breaking wrap tool dispatch, memory/instinct context
// and context-editing/summarization wrap the model call, learning runs
// after the turn completes.
func (a *agentRunner) buildPipeline(model reasoning.ModelClient, memStore *memory.Store) *middleware.Pipeline {
	mwCfg := a.cfg.Middleware
	var mws []middleware.Middleware

	if memStore != nil {
		mws = append(mws, middleware.NewMemoryContextMW(memStore, mwCfg.MemoryTopN, 0.5, nil))
		mws = append(mws, middleware.NewInstinctInjectorMW(memStore, 0.5, 3))
	}

	if counter, err := middleware.NewTokenCounter(a.cfg.LLM.DefaultModel); err == nil {
		mws = append(mws, middleware.NewContextEditingMW(counter, mwCfg.ContextEditTriggerTokens, mwCfg.ContextEditKeepToolUses))
		if mwCfg.SummarizationEnabled {
			if summarizer, err := a.models.Summarizer(a.cfg.LLM.DefaultModel); err == nil {
				mws = append(mws, middleware.NewSummarizationMW(counter, mwCfg.ContextWindowMaxTokens, mwCfg.SummaryMessageKeep, summarizer))
			}
		}
	}

	mws = append(mws, middleware.NewModelCallLimitMW(mwCfg.ModelCallLimit))
	mws = append(mws, middleware.NewToolCallLimitMW(mwCfg.ToolCallLimit))
	mws = append(mws, middleware.NewModelRetryMW(uint(mwCfg.RetryMaxAttempts)))
	mws = append(mws, middleware.NewToolRetryMW(uint(mwCfg.RetryMaxAttempts)))
	mws = append(mws, middleware.NewToolLoopBreaker(a.loopBreak, mwCfg.LoopBreakMaxRetries))

	if memStore != nil {
		mws = append(mws, middleware.NewLearningMW(memory.NewLearner(memStore)))
	}

	cc := tool.CallContext{}
	return middleware.NewPipeline(model, a.tools, cc, mws...)
}
