package storage

import (
	"io"
	"sync"
)

// ConnCache holds per-workspace resource handles that are expensive to
// re-open on every request (vector collections, keyword index files,
// legacy per-thread sqlite handles). Grounded on the teacher's
// pkg/config/dbpool.go DBPool, generalized from "one pool per DSN" to
// "one handle per workspace" and extended with targeted eviction so
// `/reset tdb` and `/reset all` can drop a single workspace's cached
// state without tearing down the whole process.
type ConnCache struct {
	mu      sync.Mutex
	handles map[string]io.Closer
}

// NewConnCache returns an empty cache.
func NewConnCache() *ConnCache {
	return &ConnCache{handles: make(map[string]io.Closer)}
}

// GetOrOpen returns the cached handle for workspaceID, opening a new one
// via open() on a miss. open() is only invoked while holding the lock,
// so concurrent requests for the same workspace never race to open two
// handles.
func (c *ConnCache) GetOrOpen(workspaceID string, open func() (io.Closer, error)) (io.Closer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[workspaceID]; ok {
		return h, nil
	}
	h, err := open()
	if err != nil {
		return nil, err
	}
	c.handles[workspaceID] = h
	return h, nil
}

// Invalidate closes and drops the cached handle for workspaceID, if any.
// Called on `/reset tdb` and `/reset all` so the next access re-opens
// against the freshly-reset on-disk state instead of serving a stale
// handle.
func (c *ConnCache) Invalidate(workspaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[workspaceID]
	if !ok {
		return nil
	}
	delete(c.handles, workspaceID)
	return h.Close()
}

// CacheKey returns the ConnCache key for a (workspaceID, resource kind)
// pair. The relational store keeps the legacy bare-workspaceID key (every
// existing caller already uses that convention); other resource kinds
// ("mem", "vdb") get a kind-suffixed key so Reset can evict one resource's
// cached handle without touching another's.
func CacheKey(workspaceID, kind string) string {
	if kind == "" || kind == ResetRelational {
		return workspaceID
	}
	return workspaceID + ":" + kind
}

// InvalidateAll closes and drops every cached handle.
func (c *ConnCache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, h := range c.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.handles, id)
	}
	return firstErr
}
