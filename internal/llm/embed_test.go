package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/executive-assistant/ken/internal/config"
)

func TestRegistryEmbed_NoOpenAIProviderConfiguredErrors(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "anthropic",
		Providers:       map[string]config.LLMProviderConfig{"anthropic": {Type: "anthropic", APIKey: "k"}},
	}
	r := New(cfg, nil)
	_, err := r.Embed(context.Background(), "hello")
	assert.Error(t, err)
}
