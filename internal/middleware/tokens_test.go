package middleware

import (
	"testing"

	"github.com/executive-assistant/ken/internal/domain"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4o", "gpt-4", "claude-3-5-sonnet", "unknown-model"} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			if err != nil {
				t.Fatalf("NewTokenCounter(%q) error = %v", model, err)
			}
			if counter == nil {
				t.Fatal("NewTokenCounter() returned nil counter")
			}
		})
	}
}

func TestTokenCounter_Count(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		name      string
		text      string
		minTokens int
		maxTokens int
	}{
		{"Empty string", "", 0, 0},
		{"Simple sentence", "Hello, world!", 3, 5},
		{"Longer text", "This is a longer sentence with more words to count tokens accurately.", 12, 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := counter.Count(tt.text)
			if count < tt.minTokens || count > tt.maxTokens {
				t.Errorf("Count() = %v, want between %v and %v for text: %q", count, tt.minTokens, tt.maxTokens, tt.text)
			}
		})
	}
}

func TestTokenCounter_CountMessages(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		name      string
		messages  []domain.Message
		minTokens int
		maxTokens int
	}{
		{"Empty messages", nil, 3, 3},
		{
			name:      "Single message",
			messages:  []domain.Message{{Role: "user", Content: "Hello"}},
			minTokens: 5,
			maxTokens: 10,
		},
		{
			name: "Conversation",
			messages: []domain.Message{
				{Role: "user", Content: "What is AI?"},
				{Role: "assistant", Content: "AI stands for Artificial Intelligence."},
				{Role: "user", Content: "Tell me more."},
			},
			minTokens: 15,
			maxTokens: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := counter.CountMessages(tt.messages)
			if count < tt.minTokens || count > tt.maxTokens {
				t.Errorf("CountMessages() = %v, want between %v and %v", count, tt.minTokens, tt.maxTokens)
			}
		})
	}
}
