package vector

import "context"

// Named vectors used by hybrid collections.
const (
	VectorContentDense = "content_dense"
	VectorSummaryDense = "summary_dense"
	VectorSparse       = "sparse"
)

// Payload is the metadata stored with every point. Any point always carries
// its project and dataset IDs so visibility can be enforced at the vector
// layer.
type Payload struct {
	Content       string         `json:"content"`
	RelativePath  string         `json:"relative_path"`
	StartLine     int            `json:"start_line"`
	EndLine       int            `json:"end_line"`
	FileExtension string         `json:"file_extension"`
	ProjectID     string         `json:"project_id"`
	DatasetID     string         `json:"dataset_id"`
	SourceType    string         `json:"source_type"`
	Repo          string         `json:"repo,omitempty"`
	Branch        string         `json:"branch,omitempty"`
	SHA           string         `json:"sha,omitempty"`
	Lang          string         `json:"lang,omitempty"`
	Symbol        string         `json:"symbol,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SparseVector is a sparse lexical representation of a text.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Document is one point to upsert: a dense vector, optional summary and
// sparse vectors, and the payload.
type Document struct {
	ID            string
	Vector        []float32
	SummaryVector []float32
	Sparse        *SparseVector
	Payload       Payload
}

// Filter constrains searches and deletes to matching payloads. Zero values
// mean "no constraint" for that field.
type Filter struct {
	ProjectID    string
	DatasetIDs   []string
	SourceType   string
	Repo         string
	RelativePath string
	PathPrefix   string
	Lang         string
}

// SearchResult is one scored hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload Payload
}

// Store is the vector store contract. Two implementations exist: the remote
// Qdrant service and a PostgreSQL/pgvector-backed dense store. Consumers
// depend only on this interface and gate feature code on the capability
// flags.
type Store interface {
	// SupportsHybrid reports whether named-vector hybrid collections and
	// sparse search are available.
	SupportsHybrid() bool

	// EnsureCollection creates the collection if missing. hybrid selects
	// named dense + sparse vectors; otherwise a single dense vector.
	EnsureCollection(ctx context.Context, name string, dimension int, hybrid bool) error

	// DropCollection removes a collection. Dropping a missing collection is
	// not an error.
	DropCollection(ctx context.Context, name string) error

	// HasCollection reports whether the collection exists.
	HasCollection(ctx context.Context, name string) (bool, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// Upsert writes documents into a collection.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// DeleteByIDs removes points by ID.
	DeleteByIDs(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes all points whose payload matches the filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// UpdatePayloadPath rewrites relative_path on every point matching the
	// filter. Used by rename handling; chunks are not re-embedded.
	UpdatePayloadPath(ctx context.Context, collection string, filter Filter, newPath string) error

	// Search runs dense ANN search with a payload filter.
	Search(ctx context.Context, collection string, vec []float32, filter Filter, limit int) ([]SearchResult, error)

	// HybridSearch fuses dense and sparse results with reciprocal-rank
	// fusion. Implementations without hybrid support fall back to Search.
	HybridSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, filter Filter, limit int) ([]SearchResult, error)

	// Count returns the number of points matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// Close releases client resources.
	Close() error
}
