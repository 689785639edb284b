package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
)

func dInstinct(domainName string) domain.Instinct {
	return domain.Instinct{
		Trigger: "t", Action: "a", Domain: domainName, Confidence: 0.7, Source: "test",
	}
}

func TestObserveMessage_DetectsCorrectionAndCreatesInstinct(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	ids, err := o.ObserveMessage(ctx, "thread1", "No, I meant the other file")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	list, err := s.listInstincts(ctx, "thread1", "communication", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Trigger, "corrects")
}

func TestObserveMessage_ReinforcesExistingCorrectionInstinct(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	_, err := o.ObserveMessage(ctx, "thread1", "actually, let's do it differently")
	require.NoError(t, err)
	_, err = o.ObserveMessage(ctx, "thread1", "wait, that's not right")
	require.NoError(t, err)

	list, err := s.listInstincts(ctx, "thread1", "communication", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 0.75, list[0].Confidence, 1e-9)
}

func TestObserveMessage_DetectsVerbosityPreference(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	ids, err := o.ObserveMessage(ctx, "thread1", "please be brief and concise")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	list, err := s.listInstincts(ctx, "thread1", "communication", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Action, "brief")
}

func TestObserveMessage_DetectsFormatPreference(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	ids, err := o.ObserveMessage(ctx, "thread1", "use bullet points please")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	list, err := s.listInstincts(ctx, "thread1", "format", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Action, "bullet points")
}

func TestObserveMessage_NoPatternMatchReturnsNothing(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	ids, err := o.ObserveMessage(ctx, "thread1", "what's the capital of France?")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestObserveConversationOutcome_SatisfactionReinforces(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	in, err := s.CreateInstinct(ctx, dInstinct("communication"), "thread1")
	require.NoError(t, err)

	updated, err := o.ObserveConversationOutcome(ctx, "that's exactly what I needed, thanks!", []string{in.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{in.ID}, updated)

	list, err := s.listInstincts(ctx, "thread1", "communication", 0)
	require.NoError(t, err)
	assert.Greater(t, list[0].Metadata.SuccessRate, 1.0-0.001) // started at 1.0, success keeps it at 1.0
}

func TestObserveConversationOutcome_FrustrationPenalizes(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)
	ctx := context.Background()

	in, err := s.CreateInstinct(ctx, dInstinct("communication"), "thread1")
	require.NoError(t, err)

	updated, err := o.ObserveConversationOutcome(ctx, "nevermind, forget it", []string{in.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{in.ID}, updated)

	list, err := s.listInstincts(ctx, "thread1", "communication", 0)
	require.NoError(t, err)
	assert.Less(t, list[0].Metadata.SuccessRate, 1.0)
}

func TestObserveConversationOutcome_NoAppliedIDsIsNoop(t *testing.T) {
	s := newTestStore(t)
	o := NewObserver(s)

	updated, err := o.ObserveConversationOutcome(context.Background(), "thanks!", nil)
	require.NoError(t, err)
	assert.Empty(t, updated)
}
