package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearner_LearnFromMessage_PersistsToStore(t *testing.T) {
	s := newTestStore(t)
	l := NewLearner(s)
	ctx := context.Background()

	require.NoError(t, l.LearnFromMessage(ctx, "thread1", "I am a teacher who loves math"))

	recent, err := s.ListRecent(ctx, "thread1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestLearner_ObserveMessage_CreatesInstinctViaObserver(t *testing.T) {
	s := newTestStore(t)
	l := NewLearner(s)
	ctx := context.Background()

	ids, err := l.ObserveMessage(ctx, "thread1", "actually, let's change direction")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestLearner_ObserveOutcome_NoAppliedIDsIsNoop(t *testing.T) {
	s := newTestStore(t)
	l := NewLearner(s)

	require.NoError(t, l.ObserveOutcome(context.Background(), "thread1", "thanks!", nil))
}
