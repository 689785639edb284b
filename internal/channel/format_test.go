package channel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_UnderLimitReturnsSingleChunk(t *testing.T) {
	chunks := Split("short message", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short message", chunks[0])
}

func TestSplit_EmptyReturnsNoChunks(t *testing.T) {
	assert.Empty(t, Split("", 100))
}

func TestSplit_SplitsAtNewlineBoundary(t *testing.T) {
	content := "line one\nline two\nline three"
	chunks := Split(content, 18)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 18)
	}
	assert.Equal(t, content, strings.Join(chunks, "\n"))
}

func TestSplit_HardSplitsOverlongSingleLine(t *testing.T) {
	line := strings.Repeat("x", 50)
	chunks := Split(line, 20)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 20)
	}
	assert.Equal(t, line, strings.Join(chunks, ""))
}

func TestTranslateMarkdown_RewritesBoldOutsideCodeBlocks(t *testing.T) {
	content := "**bold** text\n```\n**not bold**\n```\nmore **bold**"
	out := TranslateMarkdown(content, telegramMarkdownRules)
	assert.Contains(t, out, "*bold* text")
	assert.Contains(t, out, "**not bold**") // untouched inside fence
	assert.Contains(t, out, "more *bold*")
}

func TestTranslateMarkdown_NoRulesIsNoop(t *testing.T) {
	content := "**bold**"
	assert.Equal(t, content, TranslateMarkdown(content, nil))
}
