package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Reset kinds accepted by the `/reset` admin command (spec.md §4.6).
const (
	ResetRelational = "tdb"
	ResetVector     = "vdb"
	ResetFiles      = "files"
	ResetMemory     = "mem"
	ResetAll        = "all"
)

// forceOnboardingMarker is the file `/reset all` writes so the next turn
// observes a fresh-tenant state, per spec.md §3 Lifecycle.
const forceOnboardingMarker = ".force_onboarding"

// Reset clears the on-disk state for one physical resource kind (or every
// kind, for "all") under a workspace, and invalidates any cached connection
// so the next access re-opens against the freshly reset layout. Grounded on
// ConnCache's own doc comment describing exactly this `/reset tdb`/`/reset
// all` eviction contract.
func Reset(router *Router, cache *ConnCache, workspaceID, kind string) error {
	paths, err := router.Resolve(workspaceID)
	if err != nil {
		return err
	}

	kinds := []string{kind}
	if kind == ResetAll {
		kinds = []string{ResetRelational, ResetVector, ResetFiles, ResetMemory}
	}

	for _, k := range kinds {
		dir, err := resetTargetDir(paths, k)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("reset %s: %w", k, err)
		}
		if cache != nil {
			if err := cache.Invalidate(CacheKey(workspaceID, k)); err != nil {
				return fmt.Errorf("reset: invalidate connection cache for %s: %w", k, err)
			}
		}
	}

	// Recreate the directory layout emptied above.
	paths, err = router.Resolve(workspaceID)
	if err != nil {
		return err
	}

	if kind == ResetAll {
		if err := os.WriteFile(filepath.Join(paths.Root, forceOnboardingMarker), nil, 0o644); err != nil {
			return fmt.Errorf("reset all: write force-onboarding marker: %w", err)
		}
	}
	return nil
}

func resetTargetDir(paths Paths, kind string) (string, error) {
	switch kind {
	case ResetRelational:
		return filepath.Dir(paths.RelationalDB), nil
	case ResetVector:
		return paths.VectorDB, nil
	case ResetFiles:
		return paths.FilesRoot, nil
	case ResetMemory:
		return filepath.Dir(paths.MemoryDB), nil
	default:
		return "", fmt.Errorf("unknown reset kind %q", kind)
	}
}

// HasForceOnboardingMarker reports whether workspaceID's last reset was a
// `/reset all`, observed once by the next turn.
func HasForceOnboardingMarker(router *Router, workspaceID string) (bool, error) {
	paths, err := router.Resolve(workspaceID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(paths.Root, forceOnboardingMarker))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearForceOnboardingMarker consumes the marker so it fires only once.
func ClearForceOnboardingMarker(router *Router, workspaceID string) error {
	paths, err := router.Resolve(workspaceID)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(paths.Root, forceOnboardingMarker))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
