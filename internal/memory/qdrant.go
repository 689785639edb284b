package memory

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex is a remote-Qdrant-backed semantic index, satisfying the same
// vectorBackend contract as VectorIndex (chromem-go). Grounded directly on
// the teacher's pkg/vector/qdrant.go / pkg/databases/qdrant.go
// QdrantProvider, narrowed to this package's single-collection,
// pre-computed-embedding usage the way vector.go narrows chromem-go.
//
// Unlike VectorIndex, one QdrantIndex instance is shared across every
// workspace (it points at one remote server); tenant isolation is by
// thread_id payload filter within a single collection, the same scheme
// VectorIndex already uses for chromem-go's metadata filter.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
}

// OpenQdrantIndex dials host:port and returns a QdrantIndex ready to index
// into collection (created lazily, on first Index call, once the embedding
// dimension is known).
func OpenQdrantIndex(host string, port int, apiKey string, useTLS bool, collection string, embedder Embedder) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("opening qdrant client for %s:%d: %w", host, port, err)
	}
	if collection == "" {
		collection = memoryCollection
	}
	return &QdrantIndex{client: client, embedder: embedder, collection: collection}, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating qdrant collection: %w", err)
	}
	return nil
}

// Index embeds and upserts a memory, satisfying vectorBackend. No-ops if no
// Embedder was configured.
func (q *QdrantIndex) Index(ctx context.Context, id, threadID, content string) error {
	if q.embedder == nil {
		return nil
	}
	vector, err := q.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", id, err)
	}
	if err := q.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	threadVal, err := qdrant.NewValue(threadID)
	if err != nil {
		return fmt.Errorf("encode thread_id payload: %w", err)
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: map[string]*qdrant.Value{"thread_id": threadVal},
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return fmt.Errorf("index memory %s: %w", id, err)
	}
	return nil
}

// Search returns the topK memories (restricted to threadID) most
// semantically similar to query, satisfying vectorBackend. Returns (nil,
// nil) if no Embedder is configured.
func (q *QdrantIndex) Search(ctx context.Context, threadID, query string, topK int) ([]VectorResult, error) {
	if q.embedder == nil {
		return nil, nil
	}
	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	searchResult, err := q.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         threadFilter(threadID),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]VectorResult, 0, len(searchResult.Result))
	for _, p := range searchResult.Result {
		out = append(out, VectorResult{ID: pointIDString(p.Id), Score: p.Score})
	}
	return out, nil
}

// Delete removes a memory's embedding, satisfying vectorBackend.
func (q *QdrantIndex) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete vector %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func threadFilter(threadID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   "thread_id",
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: threadID}},
					},
				},
			},
		},
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
