package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddMemory_GeneratesIDAndPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "likes Go", Type: domain.MemorySemantic, Confidence: 0.9})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)

	got, ok, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "likes Go", got.Content)
}

func TestAddMemory_KeyUpsertsInsteadOfDuplicating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Key: "timezone", Content: "UTC-5", Type: domain.MemorySemantic, Confidence: 0.9})
	require.NoError(t, err)

	second, err := s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Key: "timezone", Content: "UTC-8", Type: domain.MemorySemantic, Confidence: 0.95})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	recent, err := s.ListRecent(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "UTC-8", recent[0].Content)
}

func TestSearch_RanksByKeywordOverlapAndFiltersConfidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "user loves golang concurrency patterns", Type: domain.MemorySemantic, Confidence: 0.9})
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "weather was sunny yesterday", Type: domain.MemoryEpisodic, Confidence: 0.9})
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "likes golang but low confidence", Type: domain.MemorySemantic, Confidence: 0.3})
	require.NoError(t, err)

	records, err := s.Search(ctx, "t1", "tell me about golang", 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Content, "golang concurrency")
}

func TestSearch_FiltersByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "golang preference noted", Type: domain.MemoryProcedural, Confidence: 0.9})
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "golang fact noted", Type: domain.MemorySemantic, Confidence: 0.9})
	require.NoError(t, err)

	records, err := s.Search(ctx, "t1", "golang", 10, 0.5, []string{"semantic"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "semantic", records[0].Type)
}

func TestDeleteMemory_RemovesRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.AddMemory(ctx, domain.Memory{ThreadID: "t1", Content: "to be deleted", Type: domain.MemorySemantic, Confidence: 0.9})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMemory(ctx, m.ID))

	_, ok, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
