// Package storage implements the Storage Router (C2): per-workspace path
// derivation, the file sandbox contract, and the relational-store
// interface shared by the sqlite (embedded) and Postgres (authoritative,
// per Open Question #2) backends.
package storage

import (
	"os"
	"path/filepath"
	"regexp"
)

var sanitizePattern = regexp.MustCompile(`[:/@\\]`)

// SanitizeWorkspaceID replaces path-unsafe characters in a workspace id.
// Grounded on spec.md §4.2: replace any of `:/@\` with `_`.
func SanitizeWorkspaceID(workspaceID string) string {
	return sanitizePattern.ReplaceAllString(workspaceID, "_")
}

// Paths is the set of per-workspace physical locations derived by the
// router. workspace_path(id) == workspace_path(sanitize(id)) always
// holds since every field is built from the sanitized id.
type Paths struct {
	Root           string
	FilesRoot      string
	RelationalDB   string
	VectorDB       string
	MemoryDB       string
	RemindersDir   string
	WorkflowsDir   string
}

// Router derives and creates per-workspace storage paths under root.
type Router struct {
	root string
}

func NewRouter(root string) *Router {
	return &Router{root: root}
}

// Resolve returns (and lazily creates) the physical paths for workspaceID.
func (r *Router) Resolve(workspaceID string) (Paths, error) {
	sanitized := SanitizeWorkspaceID(workspaceID)
	base := filepath.Join(r.root, "workspaces", sanitized)

	p := Paths{
		Root:         base,
		FilesRoot:    filepath.Join(base, "files"),
		RelationalDB: filepath.Join(base, "db", "db.sqlite"),
		VectorDB:     filepath.Join(base, "kb"),
		MemoryDB:     filepath.Join(base, "mem", "mem.db"),
		RemindersDir: filepath.Join(base, "reminders"),
		WorkflowsDir: filepath.Join(base, "workflows"),
	}

	for _, dir := range []string{
		p.FilesRoot,
		filepath.Dir(p.RelationalDB),
		p.VectorDB,
		filepath.Dir(p.MemoryDB),
		p.RemindersDir,
		p.WorkflowsDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, err
		}
	}
	return p, nil
}

// legacyThreadPath returns the one-way-migration legacy path for a given
// per-workspace path, keyed by thread instead of workspace. Used by
// ResolveLegacyFile to implement the read-old/write-new contract.
func (r *Router) legacyThreadPath(threadID, leaf string) string {
	return filepath.Join(r.root, "threads", SanitizeWorkspaceID(threadID), leaf)
}

// ResolveLegacyFile returns the legacy per-thread path for a file under
// files_root, named relative (e.g. "notes.txt"). Callers check
// os.Stat on this path when the new-layout file is missing, read from it
// if present, and always write to the new-layout path (spec.md §4.2).
func (r *Router) ResolveLegacyFile(threadID, relative string) string {
	return r.legacyThreadPath(threadID, filepath.Join("files", relative))
}
