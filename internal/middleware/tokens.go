package middleware

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/executive-assistant/ken/internal/domain"
)

// TokenCounter estimates token usage for context-trigger decisions
// (ContextEditingMW, SummarizationMW). Grounded on the teacher's
// pkg/utils.TokenCounter: cl100k_base fallback when the configured model
// has no direct tiktoken encoding, 3-token-per-message role/framing
// overhead, 3 tokens reserved for the reply primer.
type TokenCounter struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TokenCounter{encoding: encoding}, nil
}

func (tc *TokenCounter) Count(text string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages returns the token-cost estimate for a message slice,
// including per-message role/framing overhead and the reply primer.
func (tc *TokenCounter) CountMessages(messages []domain.Message) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	const tokensPerMessage = 3
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(m.Role, nil, nil))
		total += len(tc.encoding.Encode(m.Content, nil, nil))
	}
	total += 3
	return total
}
