package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromMessage_DetectsPreference(t *testing.T) {
	candidates := ExtractFromMessage("I prefer dark mode over light mode in every app")
	require.Len(t, candidates, 1)
	assert.Equal(t, "procedural", candidates[0].Type)
	assert.Contains(t, candidates[0].Content, "User prefers")
}

func TestExtractFromMessage_DetectsFact(t *testing.T) {
	candidates := ExtractFromMessage("I am a backend engineer working mostly in Go")
	require.Len(t, candidates, 1)
	assert.Equal(t, "semantic", candidates[0].Type)
}

func TestExtractFromMessage_NoIndicatorYieldsNothing(t *testing.T) {
	candidates := ExtractFromMessage("what time is it right now?")
	assert.Empty(t, candidates)
}

func TestExtractFromMessage_TooShortExtractionIsDropped(t *testing.T) {
	candidates := ExtractFromMessage("i like it")
	assert.Empty(t, candidates)
}

func TestLearnFromMessage_PersistsAboveMinConfidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.LearnFromMessage(ctx, "thread1", "I am a product manager focused on growth", 0.6)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	recent, err := s.ListRecent(ctx, "thread1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestLearnFromMessage_BelowThresholdSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.LearnFromMessage(ctx, "thread1", "I am a product manager focused on growth", 0.95)
	require.NoError(t, err)
	assert.Empty(t, saved)
}
