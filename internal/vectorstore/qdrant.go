package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore adapts a qdrant.Client to the Store capability interface.
// Namespaces map 1:1 to Qdrant collections, created lazily on first use —
// grounded in ai/providers/vectorstores/qdrant.VectorStore's
// CollectionExists/CreateCollection/Upsert/Query shape, narrowed to the
// spec's minimal query/upsert surface (no document batching, no embedding
// client: vectors arrive already computed by internal/retrieval).
type QdrantStore struct {
	client     *qdrant.Client
	vectorSize uint64

	schemaMu      sync.Mutex
	schemaEnsured map[string]*sync.Once
}

func NewQdrantStore(client *qdrant.Client, vectorSize uint64) *QdrantStore {
	return &QdrantStore{
		client:        client,
		vectorSize:    vectorSize,
		schemaEnsured: make(map[string]*sync.Once),
	}
}

var _ Store = (*QdrantStore)(nil)

// ensureCollection is called concurrently by every worker in the
// executor's pool (default 4, spec.md §5). schemaMu guards the
// schemaEnsured map, and the sync.Once stored there per namespace guards
// the CollectionExists/CreateCollection round-trip, so two workers racing
// on a cold namespace can't both issue CreateCollection.
func (q *QdrantStore) ensureCollection(ctx context.Context, namespace string) error {
	q.schemaMu.Lock()
	once, ok := q.schemaEnsured[namespace]
	if !ok {
		once = &sync.Once{}
		q.schemaEnsured[namespace] = once
	}
	q.schemaMu.Unlock()

	var ensureErr error
	once.Do(func() {
		exists, err := q.client.CollectionExists(ctx, namespace)
		if err != nil {
			ensureErr = fmt.Errorf("vectorstore: check collection %q: %w", namespace, err)
			return
		}
		if exists {
			return
		}
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			ensureErr = fmt.Errorf("vectorstore: create collection %q: %w", namespace, err)
		}
	})

	if ensureErr != nil {
		// Let a later call retry instead of caching a transient failure
		// as permanently "ensured".
		q.schemaMu.Lock()
		delete(q.schemaEnsured, namespace)
		q.schemaMu.Unlock()
	}
	return ensureErr
}

func (q *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("vectorstore: top_k must be positive, got %d", topK)
	}
	if err := q.ensureCollection(ctx, namespace); err != nil {
		return nil, err
	}

	scoredPoints, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrantPtr(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query collection %q: %w", namespace, err)
	}

	matches := make([]Match, 0, len(scoredPoints))
	for _, point := range scoredPoints {
		matches = append(matches, Match{
			ID:       pointID(point),
			Score:    float64(point.GetScore()),
			Metadata: payloadToMetadata(point.GetPayload()),
		})
	}
	return matches, nil
}

func (q *QdrantStore) Upsert(ctx context.Context, namespace string, points []UpsertPoint) error {
	if err := q.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	upsert := &qdrant.UpsertPoints{
		CollectionName: namespace,
		Wait:           qdrantPtr(true),
	}
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: convert metadata for point %q: %w", p.ID, err)
		}
		upsert.Points = append(upsert.Points, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	if _, err := q.client.Upsert(ctx, upsert); err != nil {
		return fmt.Errorf("vectorstore: upsert %d points into %q: %w", len(points), namespace, err)
	}
	return nil
}

func pointID(point *qdrant.ScoredPoint) string {
	id := point.GetId()
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToMetadata(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		metadata[key] = qdrantValueToAny(value)
	}
	return metadata
}

func qdrantValueToAny(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch kind := value.Kind.(type) {
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

func qdrantPtr[T any](v T) *T { return &v }
