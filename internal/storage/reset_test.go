package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReset_Files_RemovesAndRecreatesDir(t *testing.T) {
	root := t.TempDir()
	router := NewRouter(root)
	paths, err := router.Resolve("ws-1")
	require.NoError(t, err)

	marker := filepath.Join(paths.FilesRoot, "note.txt")
	require.NoError(t, os.WriteFile(marker, []byte("hi"), 0o644))

	require.NoError(t, Reset(router, nil, "ws-1", ResetFiles))

	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(paths.FilesRoot)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestReset_All_WritesForceOnboardingMarker(t *testing.T) {
	root := t.TempDir()
	router := NewRouter(root)
	_, err := router.Resolve("ws-1")
	require.NoError(t, err)

	require.NoError(t, Reset(router, nil, "ws-1", ResetAll))

	has, err := HasForceOnboardingMarker(router, "ws-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestReset_NonAllKindDoesNotWriteMarker(t *testing.T) {
	root := t.TempDir()
	router := NewRouter(root)
	_, err := router.Resolve("ws-1")
	require.NoError(t, err)

	require.NoError(t, Reset(router, nil, "ws-1", ResetMemory))

	has, err := HasForceOnboardingMarker(router, "ws-1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestClearForceOnboardingMarker_ConsumesOnce(t *testing.T) {
	root := t.TempDir()
	router := NewRouter(root)
	require.NoError(t, Reset(router, nil, "ws-1", ResetAll))

	require.NoError(t, ClearForceOnboardingMarker(router, "ws-1"))

	has, err := HasForceOnboardingMarker(router, "ws-1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestReset_InvalidatesConnCache(t *testing.T) {
	root := t.TempDir()
	router := NewRouter(root)
	_, err := router.Resolve("ws-1")
	require.NoError(t, err)

	cache := NewConnCache()
	opened := 0
	open := func() (io.Closer, error) {
		opened++
		return nopCloser{}, nil
	}
	_, err = cache.GetOrOpen("ws-1", open)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)

	require.NoError(t, Reset(router, cache, "ws-1", ResetRelational))

	_, err = cache.GetOrOpen("ws-1", open)
	require.NoError(t, err)
	assert.Equal(t, 2, opened, "cache should have been invalidated by Reset, forcing a reopen")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
