package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersAllSubsystemsWithoutPanicking(t *testing.T) {
	m := NewMetrics("ken_test")
	require.NotNil(t, m)

	assert.NotPanics(t, func() {
		m.RecordAgentTurn("telegram", 10*time.Millisecond)
		m.RecordModelCall("claude-3-5-sonnet", "anthropic", 50*time.Millisecond, 100, 40)
		m.RecordModelError("claude-3-5-sonnet", "anthropic")
		m.RecordToolCall("web_search", 5*time.Millisecond, false)
		m.RecordToolCall("web_search", 5*time.Millisecond, true)
		m.RecordMemorySearch("keyword", time.Millisecond)
		m.RecordInstinctLearned("communication")
		m.RecordFlowRun("onboarding", "completed")
		m.RecordFlowStep("onboarding", 20*time.Millisecond)
		m.RecordReminderFired("discord")
		m.RecordHTTPRequest("POST", "/webhook", 200, 3*time.Millisecond)
	})
}

func TestMetrics_NilReceiverMethodsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAgentTurn("telegram", time.Millisecond)
		m.RecordModelCall("m", "p", time.Millisecond, 1, 1)
		m.RecordModelError("m", "p")
		m.RecordToolCall("t", time.Millisecond, false)
		m.RecordMemorySearch("keyword", time.Millisecond)
		m.RecordInstinctLearned("d")
		m.RecordFlowRun("f", "failed")
		m.RecordFlowStep("f", time.Millisecond)
		m.RecordReminderFired("c")
		m.RecordHTTPRequest("GET", "/", 500, time.Millisecond)
	})
	assert.NotNil(t, m.Handler())
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(0))
}
