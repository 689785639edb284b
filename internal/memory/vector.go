package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
)

// Embedder computes an embedding vector for a piece of text. internal/llm
// implements this against a provider's embedding endpoint; defined locally
// so internal/memory never imports a concrete provider package, continuing
// the forward-reference pattern used throughout (reasoning.ModelClient,
// flow.ModelProvider, etc).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const memoryCollection = "memories"

// VectorIndex is a chromem-go-backed semantic index over a workspace's
// memories, layered on top of Store's keyword-ranked Search as an optional
// upgrade when an Embedder is configured. Grounded directly on the
// teacher's pkg/vector/chromem.go ChromemProvider, trimmed to the single
// collection and pre-computed-embedding-only usage this package needs (the
// teacher's identity-embedding-function trick — vectors are computed
// externally, chromem only indexes and searches them).
type VectorIndex struct {
	db       *chromem.DB
	embedder Embedder
	col      *chromem.Collection
}

// OpenVectorIndex opens (or creates) a persistent chromem-go database
// rooted at dir (Paths.VectorDB), gzip-compressed on disk, and gets or
// creates the single "memories" collection backing Search/Index/Delete.
func OpenVectorIndex(dir string, embedder Embedder) (*VectorIndex, error) {
	dbPath := filepath.Join(dir, "vectors.gob.gz")
	db, err := chromem.NewPersistentDB(dbPath, true)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	return newVectorIndex(db, embedder)
}

// OpenInMemoryVectorIndex skips persistence, mirroring the teacher's
// no-PersistPath branch (db = chromem.NewDB()). Used by tests and by any
// deployment that doesn't need vectors to survive a restart.
func OpenInMemoryVectorIndex(embedder Embedder) (*VectorIndex, error) {
	return newVectorIndex(chromem.NewDB(), embedder)
}

func newVectorIndex(db *chromem.DB, embedder Embedder) (*VectorIndex, error) {
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vector index embedding function called but vectors must be pre-computed")
	}
	col, err := db.GetOrCreateCollection(memoryCollection, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("opening memories collection: %w", err)
	}
	return &VectorIndex{db: db, embedder: embedder, col: col}, nil
}

// Index embeds and stores a memory for later semantic search. No-ops if no
// Embedder was configured (keyword search remains the fallback).
func (v *VectorIndex) Index(ctx context.Context, id, threadID, content string) error {
	if v.embedder == nil {
		return nil
	}
	vector, err := v.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", id, err)
	}
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  map[string]string{"thread_id": threadID},
		Embedding: vector,
	}
	if err := v.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index memory %s: %w", id, err)
	}
	return nil
}

// VectorResult is a semantic search hit.
type VectorResult struct {
	ID    string
	Score float32
}

// Search returns the topK memories (restricted to threadID) most
// semantically similar to query. Returns (nil, nil) if no Embedder is
// configured, so callers fall back to Store's keyword ranking.
func (v *VectorIndex) Search(ctx context.Context, threadID, query string, topK int) ([]VectorResult, error) {
	if v.embedder == nil {
		return nil, nil
	}
	vector, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := v.col.QueryEmbedding(ctx, vector, topK, map[string]string{"thread_id": threadID}, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]VectorResult, 0, len(results))
	for _, r := range results {
		out = append(out, VectorResult{ID: r.ID, Score: r.Similarity})
	}
	return out, nil
}

// Delete removes a memory's embedding, called when its backing Memory
// record is deleted so the two stores never drift.
func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	if err := v.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete vector %s: %w", id, err)
	}
	return nil
}
