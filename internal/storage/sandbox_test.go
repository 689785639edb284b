package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/errs"
)

func TestSandbox_Resolve_AllowsPathWithinRoot(t *testing.T) {
	root := t.TempDir()
	s := NewSandbox(root, []string{".txt"}, 0)

	resolved, err := s.Resolve("notes/todo.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "notes", "todo.txt"), resolved)
}

func TestSandbox_Resolve_RejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	s := NewSandbox(root, nil, 0)

	_, err := s.Resolve("../outside.txt")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPathTraversal, e.Kind)
}

func TestSandbox_Resolve_RejectsDisallowedExtension(t *testing.T) {
	root := t.TempDir()
	s := NewSandbox(root, []string{".txt"}, 0)

	_, err := s.Resolve("script.sh")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindExtensionDenied, e.Kind)
}

func TestSandbox_Resolve_RejectsSymlinkEscapingRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	s := NewSandbox(root, nil, 0)

	_, err := s.Resolve("escape/secret.txt")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPathTraversal, e.Kind)
}

func TestSandbox_CheckSize_RejectsOverLimit(t *testing.T) {
	s := NewSandbox(t.TempDir(), nil, 10)
	require.NoError(t, s.CheckSize(10))
	assert.Error(t, s.CheckSize(11))
}
