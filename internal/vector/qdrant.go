package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// QdrantStore is the remote vector service implementation backed by Qdrant
// over gRPC. Supports both plain dense collections and hybrid collections
// with named dense + sparse vectors.
type QdrantStore struct {
	client *qdrant.Client
	hybrid bool
	logger *zap.Logger
}

// NewQdrantStore connects to Qdrant. enableHybrid gates creation of
// named-vector collections and sparse search.
func NewQdrantStore(host string, port int, useTLS bool, enableHybrid bool, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantStore{
		client: client,
		hybrid: enableHybrid,
		logger: logger.Named("qdrant"),
	}, nil
}

// SupportsHybrid implements Store.
func (q *QdrantStore) SupportsHybrid() bool { return q.hybrid }

// indexedPayloadFields get a keyword payload index at collection creation so
// visibility filters stay fast.
var indexedPayloadFields = []string{"project_id", "dataset_id", "source_type", "relative_path"}

// EnsureCollection implements Store.
func (q *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int, hybrid bool) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	create := &qdrant.CreateCollection{CollectionName: name}
	if hybrid && q.hybrid {
		create.VectorsConfig = qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorContentDense: {Size: uint64(dimension), Distance: qdrant.Distance_Cosine},
			VectorSummaryDense: {Size: uint64(dimension), Distance: qdrant.Distance_Cosine},
		})
		create.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			VectorSparse: {},
		})
	} else {
		create.VectorsConfig = qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		})
	}

	if err := q.client.CreateCollection(ctx, create); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	for _, field := range indexedPayloadFields {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}

	q.logger.Info("created collection",
		zap.String("collection", name),
		zap.Int("dimension", dimension),
		zap.Bool("hybrid", hybrid && q.hybrid))
	return nil
}

// DropCollection implements Store.
func (q *QdrantStore) DropCollection(ctx context.Context, name string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return q.client.DeleteCollection(ctx, name)
}

// HasCollection implements Store.
func (q *QdrantStore) HasCollection(ctx context.Context, name string) (bool, error) {
	return q.client.CollectionExists(ctx, name)
}

// ListCollections implements Store.
func (q *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	return q.client.ListCollections(ctx)
}

// Upsert implements Store.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		var vectors *qdrant.Vectors
		if doc.Sparse != nil || doc.SummaryVector != nil {
			named := map[string]*qdrant.Vector{
				VectorContentDense: qdrant.NewVector(doc.Vector...),
			}
			if doc.SummaryVector != nil {
				named[VectorSummaryDense] = qdrant.NewVector(doc.SummaryVector...)
			}
			if doc.Sparse != nil {
				named[VectorSparse] = qdrant.NewVectorSparse(doc.Sparse.Indices, doc.Sparse.Values)
			}
			vectors = qdrant.NewVectorsMap(named)
		} else {
			vectors = qdrant.NewVectors(doc.Vector...)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.ID),
			Vectors: vectors,
			Payload: payloadToQdrant(doc.Payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// DeleteByIDs implements Store.
func (q *QdrantStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// DeleteByFilter implements Store.
func (q *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(buildFilter(filter)),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// UpdatePayloadPath implements Store. Rewrites relative_path in place so
// renames never re-embed.
func (q *QdrantStore) UpdatePayloadPath(ctx context.Context, collection string, filter Filter, newPath string) error {
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: collection,
		Payload: map[string]*qdrant.Value{
			"relative_path": qdrant.NewValueString(newPath),
		},
		PointsSelector: qdrant.NewPointsSelectorFilter(buildFilter(filter)),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// Search implements Store.
func (q *QdrantStore) Search(ctx context.Context, collection string, vec []float32, filter Filter, limit int) ([]SearchResult, error) {
	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	// Hybrid collections store the dense vector under a name.
	if q.hybrid {
		if hybrid, err := q.collectionIsHybrid(ctx, collection); err == nil && hybrid {
			query.Using = qdrant.PtrOf(VectorContentDense)
		}
	}

	points, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}
	return prefixFiltered(scoredToResults(points), filter.PathPrefix), nil
}

// HybridSearch implements Store. Dense and sparse prefetch lists are fused
// server-side with reciprocal-rank fusion.
func (q *QdrantStore) HybridSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, filter Filter, limit int) ([]SearchResult, error) {
	if !q.hybrid || sparse == nil {
		return q.Search(ctx, collection, dense, filter, limit)
	}

	qf := buildFilter(filter)
	prefetchLimit := qdrant.PtrOf(uint64(limit * 2))

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQuery(dense...),
				Using:  qdrant.PtrOf(VectorContentDense),
				Filter: qf,
				Limit:  prefetchLimit,
			},
			{
				Query:  qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
				Using:  qdrant.PtrOf(VectorSparse),
				Filter: qf,
				Limit:  prefetchLimit,
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed hybrid search on %s: %w", collection, err)
	}
	return prefixFiltered(scoredToResults(points), filter.PathPrefix), nil
}

// Count implements Store.
func (q *QdrantStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return int64(count), nil
}

// Close implements Store.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func (q *QdrantStore) collectionIsHybrid(ctx context.Context, name string) (bool, error) {
	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return false, err
	}
	params := info.GetConfig().GetParams()
	return len(params.GetSparseVectorsConfig().GetMap()) > 0, nil
}

// buildFilter converts a Filter into qdrant must-conditions. Nil when empty
// so unfiltered operations stay unfiltered.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.ProjectID != "" {
		must = append(must, qdrant.NewMatch("project_id", f.ProjectID))
	}
	switch len(f.DatasetIDs) {
	case 0:
	case 1:
		must = append(must, qdrant.NewMatch("dataset_id", f.DatasetIDs[0]))
	default:
		must = append(must, qdrant.NewMatchKeywords("dataset_id", f.DatasetIDs...))
	}
	if f.SourceType != "" {
		must = append(must, qdrant.NewMatch("source_type", f.SourceType))
	}
	if f.Repo != "" {
		must = append(must, qdrant.NewMatch("repo", f.Repo))
	}
	if f.RelativePath != "" {
		must = append(must, qdrant.NewMatch("relative_path", f.RelativePath))
	}
	if f.PathPrefix != "" {
		// Full-text match narrows candidates server side but matches path
		// tokens anywhere; prefixFiltered enforces the real prefix after
		// retrieval so results agree with the pgvector backend's LIKE.
		must = append(must, qdrant.NewMatchText("relative_path", f.PathPrefix))
	}
	if f.Lang != "" {
		must = append(must, qdrant.NewMatch("lang", f.Lang))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// prefixFiltered drops results whose relative_path does not start with
// prefix. An empty prefix keeps everything.
func prefixFiltered(results []SearchResult, prefix string) []SearchResult {
	if prefix == "" {
		return results
	}
	kept := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if strings.HasPrefix(r.Payload.RelativePath, prefix) {
			kept = append(kept, r)
		}
	}
	return kept
}

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	out := map[string]*qdrant.Value{
		"content":        qdrant.NewValueString(p.Content),
		"relative_path":  qdrant.NewValueString(p.RelativePath),
		"start_line":     qdrant.NewValueInt(int64(p.StartLine)),
		"end_line":       qdrant.NewValueInt(int64(p.EndLine)),
		"file_extension": qdrant.NewValueString(p.FileExtension),
		"project_id":     qdrant.NewValueString(p.ProjectID),
		"dataset_id":     qdrant.NewValueString(p.DatasetID),
		"source_type":    qdrant.NewValueString(p.SourceType),
	}
	if p.Repo != "" {
		out["repo"] = qdrant.NewValueString(p.Repo)
	}
	if p.Branch != "" {
		out["branch"] = qdrant.NewValueString(p.Branch)
	}
	if p.SHA != "" {
		out["sha"] = qdrant.NewValueString(p.SHA)
	}
	if p.Lang != "" {
		out["lang"] = qdrant.NewValueString(p.Lang)
	}
	if p.Symbol != "" {
		out["symbol"] = qdrant.NewValueString(p.Symbol)
	}
	if len(p.Metadata) > 0 {
		if data, err := json.Marshal(p.Metadata); err == nil {
			out["metadata"] = qdrant.NewValueString(string(data))
		}
	}
	return out
}

func scoredToResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, pt := range points {
		payload := pt.GetPayload()
		r := SearchResult{
			ID:    pt.GetId().GetUuid(),
			Score: pt.GetScore(),
			Payload: Payload{
				Content:       payload["content"].GetStringValue(),
				RelativePath:  payload["relative_path"].GetStringValue(),
				StartLine:     int(payload["start_line"].GetIntegerValue()),
				EndLine:       int(payload["end_line"].GetIntegerValue()),
				FileExtension: payload["file_extension"].GetStringValue(),
				ProjectID:     payload["project_id"].GetStringValue(),
				DatasetID:     payload["dataset_id"].GetStringValue(),
				SourceType:    payload["source_type"].GetStringValue(),
				Repo:          payload["repo"].GetStringValue(),
				Branch:        payload["branch"].GetStringValue(),
				SHA:           payload["sha"].GetStringValue(),
				Lang:          payload["lang"].GetStringValue(),
				Symbol:        payload["symbol"].GetStringValue(),
			},
		}
		if raw := payload["metadata"].GetStringValue(); raw != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(raw), &meta); err == nil {
				r.Payload.Metadata = meta
			}
		}
		results = append(results, r)
	}
	return results
}
