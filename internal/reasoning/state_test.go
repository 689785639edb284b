package reasoning

import (
	"testing"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentState_AppendMessageDedupesByID(t *testing.T) {
	s := NewAgentState("ws1", "thread1", "user1", "http", "hello", nil)
	s.AppendMessage(domain.Message{MessageID: "m1", Role: "user", Content: "hi"})
	s.AppendMessage(domain.Message{MessageID: "m1", Role: "user", Content: "hi again"})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestAgentState_RouteTieBreaks(t *testing.T) {
	s := NewAgentState("ws1", "thread1", "user1", "http", "hello", nil)
	s.SummaryThreshold = 2

	// tool calls win even past summary threshold
	s.AppendMessage(domain.Message{Role: "user", Content: "a"})
	s.AppendMessage(domain.Message{Role: "assistant", Content: "b"})
	s.route([]domain.ToolCall{{ID: "1", Name: "noop"}})
	assert.Equal(t, NodeTools, s.Node())

	// no tool calls, over threshold -> summarize
	s.route(nil)
	assert.Equal(t, NodeSummarize, s.Node())

	// under threshold, no tool calls -> end
	s2 := NewAgentState("ws1", "thread1", "user1", "http", "hello", nil)
	s2.SummaryThreshold = 100
	s2.route(nil)
	assert.Equal(t, NodeEnd, s2.Node())
	assert.True(t, s2.IsDone())
}

func TestAgentState_ReplaceWithSummary(t *testing.T) {
	s := NewAgentState("ws1", "thread1", "user1", "http", "hello", nil)
	for i := 0; i < 5; i++ {
		s.AppendMessage(domain.Message{Role: "user", Content: "msg"})
	}
	s.ReplaceWithSummary("topics: x, y", 2)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "topics: x, y")
	assert.Equal(t, "topics: x, y", s.Summary())
}

func TestAgentState_NextIterationIncrementsOnlyWhenCalled(t *testing.T) {
	s := NewAgentState("ws1", "thread1", "user1", "http", "hello", nil)
	assert.Equal(t, 0, s.Iteration())
	assert.Equal(t, 1, s.NextIteration())
	assert.Equal(t, 1, s.Iteration())
}
