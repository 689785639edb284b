package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/executive-assistant/ken/internal/config"
)

// embedWithOpenAI satisfies memory.Embedder for a single OpenAI provider
// entry; Anthropic has no public embeddings endpoint so C9's vector index
// is always backed by the OpenAI provider when one is configured.
func embedWithOpenAI(ctx context.Context, p config.LLMProviderConfig, text string) ([]float32, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("llm: openai provider missing api_key")
	}
	c := openai.NewClient(openaiClientOptions(p)...)
	model := p.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	resp, err := c.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: openai embeddings.new: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm: openai embeddings.new returned no data")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}
