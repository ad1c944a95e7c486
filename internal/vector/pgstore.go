package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGStore is the dense-only vector store variant backed by PostgreSQL with
// the pgvector extension. Useful for single-node deployments that do not run
// a separate vector service. No hybrid/named-vector support.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates the pgvector-backed store over an existing pool.
func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{pool: pool, logger: logger.Named("pgvector")}
}

// SupportsHybrid implements Store.
func (p *PGStore) SupportsHybrid() bool { return false }

// EnsureCollection implements Store. Collections share one table keyed by
// collection name; the registry row carries the dimension.
func (p *PGStore) EnsureCollection(ctx context.Context, name string, dimension int, _ bool) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS claude_context.vector_documents (
		    collection_name TEXT NOT NULL,
		    id              UUID NOT NULL,
		    embedding       vector,
		    payload         JSONB NOT NULL DEFAULT '{}'::jsonb,
		    PRIMARY KEY (collection_name, id)
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure vector_documents: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO claude_context.collections_metadata (collection_name, dimension, is_hybrid)
		 VALUES ($1, $2, FALSE)
		 ON CONFLICT (collection_name) DO NOTHING`,
		name, dimension)
	return err
}

// DropCollection implements Store.
func (p *PGStore) DropCollection(ctx context.Context, name string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM claude_context.vector_documents WHERE collection_name = $1`, name); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM claude_context.collections_metadata WHERE collection_name = $1`, name)
	return err
}

// HasCollection implements Store.
func (p *PGStore) HasCollection(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claude_context.collections_metadata WHERE collection_name = $1)`,
		name).Scan(&ok)
	return ok, err
}

// ListCollections implements Store.
func (p *PGStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT collection_name FROM claude_context.collections_metadata ORDER BY collection_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Upsert implements Store.
func (p *PGStore) Upsert(ctx context.Context, collection string, docs []Document) error {
	for _, doc := range docs {
		payload, err := json.Marshal(doc.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", doc.ID, err)
		}
		_, err = p.pool.Exec(ctx,
			`INSERT INTO claude_context.vector_documents (collection_name, id, embedding, payload)
			 VALUES ($1, $2, $3::vector, $4)
			 ON CONFLICT (collection_name, id) DO UPDATE SET
			   embedding = EXCLUDED.embedding,
			   payload = EXCLUDED.payload`,
			collection, doc.ID, denseLiteral(doc.Vector), payload)
		if err != nil {
			return fmt.Errorf("failed to upsert %s into %s: %w", doc.ID, collection, err)
		}
	}
	return nil
}

// DeleteByIDs implements Store.
func (p *PGStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM claude_context.vector_documents
		 WHERE collection_name = $1 AND id = ANY($2::uuid[])`,
		collection, ids)
	return err
}

// DeleteByFilter implements Store.
func (p *PGStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	where, args := filterSQL(filter, 2)
	_, err := p.pool.Exec(ctx,
		`DELETE FROM claude_context.vector_documents
		 WHERE collection_name = $1`+where,
		append([]any{collection}, args...)...)
	return err
}

// UpdatePayloadPath implements Store.
func (p *PGStore) UpdatePayloadPath(ctx context.Context, collection string, filter Filter, newPath string) error {
	where, args := filterSQL(filter, 3)
	_, err := p.pool.Exec(ctx,
		`UPDATE claude_context.vector_documents
		 SET payload = jsonb_set(payload, '{relative_path}', to_jsonb($2::text))
		 WHERE collection_name = $1`+where,
		append([]any{collection, newPath}, args...)...)
	return err
}

// Search implements Store. Cosine distance via pgvector's <=> operator;
// score is 1 - distance to match the remote store's convention.
func (p *PGStore) Search(ctx context.Context, collection string, vec []float32, filter Filter, limit int) ([]SearchResult, error) {
	where, args := filterSQL(filter, 3)
	rows, err := p.pool.Query(ctx,
		`SELECT id, 1 - (embedding <=> $2::vector) AS score, payload
		 FROM claude_context.vector_documents
		 WHERE collection_name = $1`+where+`
		 ORDER BY embedding <=> $2::vector
		 LIMIT `+fmt.Sprint(limit),
		append([]any{collection, denseLiteral(vec)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r   SearchResult
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Score, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &r.Payload); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HybridSearch implements Store by falling back to dense search.
func (p *PGStore) HybridSearch(ctx context.Context, collection string, dense []float32, _ *SparseVector, filter Filter, limit int) ([]SearchResult, error) {
	return p.Search(ctx, collection, dense, filter, limit)
}

// Count implements Store.
func (p *PGStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	where, args := filterSQL(filter, 2)
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM claude_context.vector_documents
		 WHERE collection_name = $1`+where,
		append([]any{collection}, args...)...).Scan(&count)
	return count, err
}

// Close implements Store. The pool is owned by the caller.
func (p *PGStore) Close() error { return nil }

// filterSQL renders payload constraints as jsonb predicates starting at
// placeholder $next.
func filterSQL(f Filter, next int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(expr string, val any) {
		clauses = append(clauses, fmt.Sprintf(expr, next))
		args = append(args, val)
		next++
	}

	if f.ProjectID != "" {
		add(" AND payload->>'project_id' = $%d", f.ProjectID)
	}
	if len(f.DatasetIDs) > 0 {
		add(" AND payload->>'dataset_id' = ANY($%d)", f.DatasetIDs)
	}
	if f.SourceType != "" {
		add(" AND payload->>'source_type' = $%d", f.SourceType)
	}
	if f.Repo != "" {
		add(" AND payload->>'repo' = $%d", f.Repo)
	}
	if f.RelativePath != "" {
		add(" AND payload->>'relative_path' = $%d", f.RelativePath)
	}
	if f.PathPrefix != "" {
		add(" AND payload->>'relative_path' LIKE $%d || '%%'", f.PathPrefix)
	}
	if f.Lang != "" {
		add(" AND payload->>'lang' = $%d", f.Lang)
	}

	return strings.Join(clauses, ""), args
}

// denseLiteral renders a pgvector text literal.
func denseLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
