package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/executive-assistant/ken/internal/errs"
)

// Sandbox enforces the file tool's path/extension/size contract
// (spec.md §4.2), grounded on the teacher's filetool read/write allow-list
// checks.
type Sandbox struct {
	FilesRoot         string
	AllowedExtensions map[string]struct{}
	MaxBytes          int64
}

func NewSandbox(filesRoot string, allowedExtensions []string, maxBytes int64) *Sandbox {
	allowed := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Sandbox{FilesRoot: filesRoot, AllowedExtensions: allowed, MaxBytes: maxBytes}
}

// Resolve canonicalizes a caller-supplied relative path and rejects it if
// it would escape FilesRoot (PathTraversal) or use a disallowed extension
// (ExtensionDenied).
func (s *Sandbox) Resolve(relative string) (string, error) {
	joined := filepath.Join(s.FilesRoot, relative)
	canonical, err := filepath.Abs(joined)
	if err != nil {
		return "", errs.New(errs.KindInternal, "Sandbox", "Resolve", "failed to canonicalize path", err)
	}
	// Resolve symlinks on whatever portion of the path exists so a
	// symlink under FilesRoot pointing outside it can't pass the prefix
	// check below; a not-yet-created file (e.g. a write target) simply
	// resolves as far as its deepest existing ancestor.
	canonical = resolveExistingSymlinks(canonical)

	rootAbs, err := filepath.Abs(s.FilesRoot)
	if err != nil {
		return "", errs.New(errs.KindInternal, "Sandbox", "Resolve", "failed to canonicalize sandbox root", err)
	}
	if real, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = real
	}

	if canonical != rootAbs && !strings.HasPrefix(canonical, rootAbs+string(os.PathSeparator)) {
		return "", errs.PathTraversal("Sandbox", "Resolve", relative)
	}

	ext := strings.ToLower(filepath.Ext(canonical))
	if len(s.AllowedExtensions) > 0 {
		if _, ok := s.AllowedExtensions[ext]; !ok {
			return "", errs.ExtensionDenied("Sandbox", "Resolve", ext)
		}
	}

	return canonical, nil
}

// resolveExistingSymlinks walks up from path until it finds an ancestor
// that exists, resolves that ancestor's symlinks, and rejoins the
// not-yet-existing tail unchanged. filepath.EvalSymlinks alone fails
// outright on a path whose final component doesn't exist yet (the common
// case for a write target), which would otherwise make every new-file
// write report a bogus traversal error.
func resolveExistingSymlinks(path string) string {
	tail := ""
	for p := path; ; {
		if real, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(real, tail)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path
		}
		tail = filepath.Join(filepath.Base(p), tail)
		p = parent
	}
}

// CheckSize rejects content larger than MaxBytes (SizeExceeded).
func (s *Sandbox) CheckSize(n int64) error {
	if s.MaxBytes > 0 && n > s.MaxBytes {
		return errs.SizeExceeded("Sandbox", "CheckSize", s.MaxBytes)
	}
	return nil
}

// EnsureDir creates the sandbox root if it does not yet exist.
func (s *Sandbox) EnsureDir() error {
	return os.MkdirAll(s.FilesRoot, 0o755)
}
