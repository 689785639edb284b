package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterAllows(t *testing.T) {
	assert.True(t, filterAllows(nil, "anything"))
	assert.True(t, filterAllows([]string{"a", "b"}, "a"))
	assert.False(t, filterAllows([]string{"a", "b"}, "c"))
}

func TestExtractFirstText(t *testing.T) {
	result := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "hello"},
			map[string]any{"type": "text", "text": "world"},
		},
	}
	assert.Equal(t, "hello\nworld", extractFirstText(result))

	assert.Equal(t, "", extractFirstText(map[string]any{}))
}
