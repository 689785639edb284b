// Package llm adapts the Anthropic and OpenAI APIs to the narrow
// reasoning.ModelClient and memory.Embedder surfaces the rest of the
// runtime depends on, grounded on goa-ai's features/model/anthropic and
// features/model/openai adapters (request/response translation between a
// generic message shape and a concrete provider SDK).
package llm

import (
	"context"
	"fmt"
	"strings"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/executive-assistant/ken/internal/config"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

// Registry constructs provider-backed reasoning.ModelClient instances from
// the configured llm.providers map, and satisfies flow.ModelProvider
// without internal/flow importing internal/llm directly.
type Registry struct {
	cfg   config.LLMConfig
	tools []tool.Definition
}

// New returns a Registry that advertises toolReg's public (non-internal)
// tools to every model it constructs.
func New(cfg config.LLMConfig, toolReg *tool.Registry) *Registry {
	var defs []tool.Definition
	if toolReg != nil {
		for _, t := range toolReg.List() {
			if t.Internal {
				continue
			}
			defs = append(defs, tool.ToDefinition(t))
		}
	}
	return &Registry{cfg: cfg, tools: defs}
}

// providerFor resolves which configured provider entry backs model. An
// empty model falls back to cfg.DefaultModel/DefaultProvider. Matching is
// by exact provider key first, then by scanning for a provider whose
// configured Model equals the requested model.
func (r *Registry) providerFor(model string) (string, config.LLMProviderConfig, error) {
	if model == "" {
		model = r.cfg.DefaultModel
	}
	if p, ok := r.cfg.Providers[model]; ok {
		return model, p, nil
	}
	for name, p := range r.cfg.Providers {
		if p.Model == model {
			return name, p, nil
		}
	}
	if model == r.cfg.DefaultModel {
		if p, ok := r.cfg.Providers[r.cfg.DefaultProvider]; ok {
			return r.cfg.DefaultProvider, p, nil
		}
	}
	return "", config.LLMProviderConfig{}, fmt.Errorf("llm: no provider configured for model %q", model)
}

// ModelClient satisfies flow.ModelProvider: it resolves model to a
// configured provider and returns a reasoning.ModelClient bound to
// systemPrompt and this registry's tool set.
func (r *Registry) ModelClient(model, systemPrompt string) (reasoning.ModelClient, error) {
	name, p, err := r.providerFor(model)
	if err != nil {
		return nil, err
	}
	modelID := p.Model
	if modelID == "" {
		modelID = model
	}
	switch strings.ToLower(p.Type) {
	case "anthropic":
		return newAnthropicClient(name, p, modelID, systemPrompt, r.tools)
	case "openai":
		return newOpenAIClient(name, p, modelID, systemPrompt, r.tools)
	default:
		return nil, fmt.Errorf("llm: unsupported provider type %q", p.Type)
	}
}

// Embed satisfies memory.Embedder using the first configured OpenAI
// provider (Anthropic has no public embeddings endpoint).
func (r *Registry) Embed(ctx context.Context, text string) ([]float32, error) {
	for _, p := range r.cfg.Providers {
		if strings.ToLower(p.Type) == "openai" {
			return embedWithOpenAI(ctx, p, text)
		}
	}
	return nil, fmt.Errorf("llm: no openai provider configured for embeddings")
}

// effectiveSystemPrompt appends the per-turn onboarding notice (set by
// cmd/ken's runner) and the memory/instinct blocks MemoryContextMW and
// InstinctInjectorMW stash in state.CustomState (per their own doc
// comments: "for the llm provider adapter to append to the system
// prompt") onto the base system prompt fixed at client construction.
// Each block is pre-formatted text or absent.
func effectiveSystemPrompt(base string, state *reasoning.AgentState) string {
	parts := make([]string, 0, 4)
	if base != "" {
		parts = append(parts, base)
	}
	if on, ok := state.CustomState["onboarding_notice"].(string); ok && on != "" {
		parts = append(parts, on)
	}
	if mc, ok := state.CustomState["memory_context"].(string); ok && mc != "" {
		parts = append(parts, mc)
	}
	if bp, ok := state.CustomState["behavioral_patterns"].(string); ok && bp != "" {
		parts = append(parts, bp)
	}
	return strings.Join(parts, "\n\n")
}

func anthropicClientOptions(p config.LLMProviderConfig) []anthropicopt.RequestOption {
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(p.BaseURL))
	}
	return opts
}

func openaiClientOptions(p config.LLMProviderConfig) []openaiopt.RequestOption {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(p.BaseURL))
	}
	return opts
}
