// Package memory implements the Memory & Instinct store (C9): durable
// per-workspace recall of facts/events/patterns (domain.Memory) and learned
// behavioral rules (domain.Instinct), plus the passive observers that grow
// both from ordinary conversation turns. Grounded on
// original_source/src/memory/db.py (the Memory shape and the intended
// "SQLite + FTS5 + vec" storage split) and
// original_source/src/executive_assistant/instincts/{injector,observer}.py
// (confidence formula, conflict resolution, pattern triggers), expressed
// with internal/storage's SQLiteStore conventions (modernc.org/sqlite,
// RFC3339Nano timestamps, ON CONFLICT upserts).
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/middleware"
)

// schema creates the two tables mem.db owns. Unlike the tenant-wide
// relational store, this is a small, workspace-scoped database with a
// single migration step: there is no history to version yet, so the
// store creates its own schema on open rather than reaching for
// golang-migrate.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	thread_id     TEXT NOT NULL,
	content       TEXT NOT NULL,
	type          TEXT NOT NULL,
	confidence    REAL NOT NULL,
	source        TEXT NOT NULL,
	key           TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	last_accessed TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_thread ON memories(thread_id);
CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(thread_id, key) WHERE key != '';

CREATE TABLE IF NOT EXISTS instincts (
	id               TEXT PRIMARY KEY,
	thread_id        TEXT NOT NULL,
	trigger          TEXT NOT NULL,
	action           TEXT NOT NULL,
	domain           TEXT NOT NULL,
	confidence       REAL NOT NULL,
	source           TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 1,
	success_rate     REAL NOT NULL DEFAULT 1.0,
	last_triggered   TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instincts_thread_domain ON instincts(thread_id, domain);
`

// Store is the SQLite-backed home for a single workspace's memories and
// instincts. It satisfies middleware.MemoryProvider and
// middleware.InstinctProvider directly, and is the target of Observer's
// and LearnFromMessage's writes.
type Store struct {
	db *sql.DB

	// Vector is an optional semantic index layered on top of the SQL-backed
	// keyword search. Nil until the caller sets it (it depends on an
	// Embedder, which the composition root wires from internal/llm), in
	// which case Search falls back to keyword ranking alone. Both
	// VectorIndex (chromem-go, embedded) and QdrantIndex (remote) satisfy
	// this, selected by config.MemoryConfig.VectorBackend.
	Vector vectorBackend
}

// vectorBackend is the semantic-index contract Store.Vector depends on,
// letting the composition root choose an embedded or remote backend without
// Store caring which.
type vectorBackend interface {
	Index(ctx context.Context, id, threadID, content string) error
	Search(ctx context.Context, threadID, query string, topK int) ([]VectorResult, error)
	Delete(ctx context.Context, id string) error
}

// Open applies the schema to dsn (a file path under Paths.MemoryDB, or
// ":memory:" for tests) and returns a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database and, if Vector is a closeable remote
// backend (QdrantIndex holds a gRPC connection; VectorIndex's chromem-go
// handle needs no explicit close), that connection too.
func (s *Store) Close() error {
	if closer, ok := s.Vector.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.db.Close()
			return fmt.Errorf("closing vector index: %w", err)
		}
	}
	return s.db.Close()
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTSPtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTS(s.String)
	return &t
}

// AddMemory persists a new memory, generating an ID and CreatedAt if unset.
// If Key is non-empty, it upserts on (thread_id, key) so repeated learning
// of the same fact ("user's timezone") overwrites rather than duplicates.
func (s *Store) AddMemory(ctx context.Context, m domain.Memory) (domain.Memory, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return domain.Memory{}, err
	}

	if m.Key != "" {
		var existingID string
		row := s.db.QueryRowContext(ctx, `SELECT id FROM memories WHERE thread_id = ? AND key = ?`, m.ThreadID, m.Key)
		if err := row.Scan(&existingID); err == nil {
			m.ID = existingID
		} else if err != sql.ErrNoRows {
			return domain.Memory{}, err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, thread_id, content, type, confidence, source, key, metadata, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, type = excluded.type, confidence = excluded.confidence,
			source = excluded.source, metadata = excluded.metadata`,
		m.ID, m.ThreadID, m.Content, string(m.Type), m.Confidence, m.Source, m.Key, metadata, ts(m.CreatedAt))
	if err != nil {
		return domain.Memory{}, fmt.Errorf("add memory: %w", err)
	}

	if s.Vector != nil {
		if err := s.Vector.Index(ctx, m.ID, m.ThreadID, m.Content); err != nil {
			return domain.Memory{}, fmt.Errorf("add memory: %w", err)
		}
	}
	return m, nil
}

// DeleteMemory removes a memory and its vector embedding, if any.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if s.Vector != nil {
		if err := s.Vector.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GetMemory fetches a single memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (domain.Memory, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, content, type, confidence, source, key, metadata, created_at, last_accessed
		FROM memories WHERE id = ?`, id)
	if err != nil {
		return domain.Memory{}, false, err
	}
	defer rows.Close()
	memories, err := scanMemories(rows)
	if err != nil {
		return domain.Memory{}, false, err
	}
	if len(memories) == 0 {
		return domain.Memory{}, false, nil
	}
	return memories[0], true, nil
}

// ListRecent returns a thread's memories, most recently created first.
func (s *Store) ListRecent(ctx context.Context, threadID string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, content, type, confidence, source, key, metadata, created_at, last_accessed
		FROM memories WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Search returns threadID's memories relevant to query, ranked by a
// keyword-overlap score (see keyword.go) among those meeting minConfidence
// and types, satisfying middleware.MemoryProvider.
func (s *Store) Search(ctx context.Context, threadID, query string, maxResults int, minConfidence float64, types []string) ([]middleware.MemoryRecord, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	if s.Vector != nil {
		records, err := s.vectorSearch(ctx, threadID, query, maxResults, minConfidence, types)
		if err != nil {
			return nil, err
		}
		if records != nil {
			return records, nil
		}
	}

	candidates, err := s.listByTypes(ctx, threadID, minConfidence, types)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	scored := make([]scoredMemory, 0, len(candidates))
	for _, m := range candidates {
		score := calculateScore(queryTokens, tokenize(m.Content))
		if score == 0 {
			continue
		}
		scored = append(scored, scoredMemory{memory: m, score: score})
	}
	rankByScore(scored)

	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}

	records := make([]middleware.MemoryRecord, 0, len(scored))
	for _, sm := range scored {
		records = append(records, middleware.MemoryRecord{
			Type:       string(sm.memory.Type),
			Content:    sm.memory.Content,
			Confidence: sm.memory.Confidence,
		})
		s.touchAccessed(ctx, sm.memory.ID)
	}
	return records, nil
}

// vectorSearch resolves a semantic search against s.Vector, re-applying the
// type/confidence filters chromem's metadata query doesn't know about.
// Returns (nil, nil) when no Embedder is configured, signaling the caller
// to fall back to keyword search.
func (s *Store) vectorSearch(ctx context.Context, threadID, query string, maxResults int, minConfidence float64, types []string) ([]middleware.MemoryRecord, error) {
	hits, err := s.Vector.Search(ctx, threadID, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if hits == nil {
		return nil, nil
	}

	allowedTypes := make(map[string]bool, len(types))
	for _, t := range types {
		allowedTypes[t] = true
	}

	records := make([]middleware.MemoryRecord, 0, len(hits))
	for _, hit := range hits {
		m, ok, err := s.GetMemory(ctx, hit.ID)
		if err != nil || !ok {
			continue
		}
		if m.Confidence < minConfidence {
			continue
		}
		if len(allowedTypes) > 0 && !allowedTypes[string(m.Type)] {
			continue
		}
		records = append(records, middleware.MemoryRecord{
			Type:       string(m.Type),
			Content:    m.Content,
			Confidence: m.Confidence,
		})
		s.touchAccessed(ctx, m.ID)
	}
	return records, nil
}

func (s *Store) listByTypes(ctx context.Context, threadID string, minConfidence float64, types []string) ([]domain.Memory, error) {
	query := `SELECT id, thread_id, content, type, confidence, source, key, metadata, created_at, last_accessed
		FROM memories WHERE thread_id = ? AND confidence >= ?`
	args := []any{threadID, minConfidence}
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// touchAccessed bumps last_accessed on a recalled memory. Errors are
// discarded, not surfaced or logged, matching the read path's best-effort
// nature.
func (s *Store) touchAccessed(ctx context.Context, id string) {
	_, _ = s.db.ExecContext(ctx, `UPDATE memories SET last_accessed = ? WHERE id = ?`, ts(time.Now()), id)
}

func scanMemories(rows *sql.Rows) ([]domain.Memory, error) {
	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		var typ, createdAt, metadata string
		var lastAccessed sql.NullString
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Content, &typ, &m.Confidence, &m.Source, &m.Key, &metadata, &createdAt, &lastAccessed); err != nil {
			return nil, err
		}
		m.Type = domain.MemoryType(typ)
		m.CreatedAt = parseTS(createdAt)
		m.LastAccessed = parseTSPtr(lastAccessed)
		meta, err := decodeMetadata(metadata)
		if err != nil {
			return nil, err
		}
		m.Metadata = meta
		out = append(out, m)
	}
	return out, rows.Err()
}

type scoredMemory struct {
	memory domain.Memory
	score  float64
}

func rankByScore(scored []scoredMemory) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].score > scored[j-1].score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode memory metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode memory metadata: %w", err)
	}
	return m, nil
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}
