package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/embed"
	"github.com/ctxstack/ctxd/internal/scope"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/vector"
)

// Catalog is the read-only relational surface the planner needs.
// *store.Store satisfies it. The planner never creates rows: an unknown
// project yields an empty response, not a new project.
type Catalog interface {
	GetProject(ctx context.Context, name string) (*store.Project, error)
	AccessibleDatasets(ctx context.Context, projectID uuid.UUID) ([]*store.Dataset, error)
	GetDatasetCollection(ctx context.Context, datasetID uuid.UUID) (*store.DatasetCollection, error)
}

// Reranker optionally rescores the merged candidates against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float32, error)
}

// Request is one retrieval call.
type Request struct {
	// Project scopes the search. Unknown projects return empty results.
	Project string `json:"project"`

	// Datasets holds dataset patterns: exact names, globs, or semantic
	// aliases. Empty means every accessible dataset.
	Datasets []string `json:"datasets,omitempty"`

	Query string `json:"query"`

	// TopK bounds the merged result count. Zero uses the planner default.
	TopK int `json:"topK,omitempty"`

	Filter Filters `json:"filter,omitempty"`
}

// Filters narrow results by payload fields. Zero values are unconstrained.
type Filters struct {
	SourceType string `json:"sourceType,omitempty"`
	Repo       string `json:"repo,omitempty"`
	PathPrefix string `json:"pathPrefix,omitempty"`
	Lang       string `json:"lang,omitempty"`
}

// Scores carries the per-stage scores of one result.
type Scores struct {
	Vector float32 `json:"vector"`
	Rerank float32 `json:"rerank,omitempty"`
	Final  float32 `json:"final"`
}

// Result is one retrieved chunk.
type Result struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Dataset string         `json:"dataset"`
	Scores  Scores         `json:"scores"`
	Source  vector.Payload `json:"source"`
}

// Timing breaks the request latency into its stages.
type Timing struct {
	EmbeddingMs int64 `json:"embeddingMs"`
	SearchMs    int64 `json:"searchMs"`
	TotalMs     int64 `json:"totalMs"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	RetrievalMethod string   `json:"retrievalMethod"`
	QueriesExecuted int      `json:"queriesExecuted"`
	Timing          Timing   `json:"timing"`
	InvalidPatterns []string `json:"invalidPatterns,omitempty"`
}

// Response is the retrieval envelope.
type Response struct {
	RequestID string   `json:"requestId"`
	Results   []Result `json:"results"`
	Metadata  Metadata `json:"metadata"`
}

// PlannerOptions tune retrieval.
type PlannerOptions struct {
	// TopK is the default merged result count.
	TopK int

	// Oversample multiplies TopK for the per-collection limit so the global
	// merge has enough candidates from every dataset.
	Oversample int

	// EnableHybrid allows sparse+dense retrieval on hybrid collections when
	// the vector store and encoder support it.
	EnableHybrid bool
}

// Planner expands dataset patterns against a project's accessible datasets,
// fans one embedded query out across their collections, and merges the hits
// into a single ranked response.
type Planner struct {
	catalog  Catalog
	vectors  vector.Store
	embedder embed.Embedder
	sparse   embed.SparseEncoder
	reranker Reranker
	opts     PlannerOptions
	logger   *zap.Logger
}

// NewPlanner creates a query planner. sparse and reranker may be nil.
func NewPlanner(catalog Catalog, vectors vector.Store, embedder embed.Embedder, sparse embed.SparseEncoder, reranker Reranker, opts PlannerOptions, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Oversample <= 0 {
		opts.Oversample = 3
	}
	return &Planner{
		catalog:  catalog,
		vectors:  vectors,
		embedder: embedder,
		sparse:   sparse,
		reranker: reranker,
		opts:     opts,
		logger:   logger.Named("query"),
	}
}

// searchTarget is one resolved (dataset, collection) pair to query.
type searchTarget struct {
	dataset    *store.Dataset
	collection string
	hybrid     bool
}

// Search runs one retrieval request.
func (p *Planner) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp := &Response{
		RequestID: uuid.New().String(),
		Results:   []Result{},
		Metadata:  Metadata{RetrievalMethod: "none"},
	}

	pred, invalid := CompileAll(req.Datasets)
	resp.Metadata.InvalidPatterns = invalid
	for _, pat := range invalid {
		p.logger.Warn("dropping invalid dataset pattern", zap.String("pattern", pat))
	}

	targets, err := p.resolveTargets(ctx, req.Project, pred)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		resp.Metadata.Timing.TotalMs = time.Since(start).Milliseconds()
		return resp, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}
	limit := topK * p.opts.Oversample

	embedStart := time.Now()
	queryVec, _, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	var querySparse *vector.SparseVector
	if p.hybridAvailable() {
		if querySparse, err = p.sparse.EncodeSparse(ctx, req.Query); err != nil {
			// Sparse encoding is best effort; dense retrieval still works.
			p.logger.Warn("sparse encoding failed, falling back to dense", zap.Error(err))
			querySparse = nil
		}
	}
	resp.Metadata.Timing.EmbeddingMs = time.Since(embedStart).Milliseconds()

	searchStart := time.Now()
	lists, hybridUsed, err := p.fanOut(ctx, targets, queryVec, querySparse, req.Filter, limit)
	if err != nil {
		return nil, err
	}
	resp.Metadata.Timing.SearchMs = time.Since(searchStart).Milliseconds()
	resp.Metadata.QueriesExecuted = len(lists)

	var merged []Result
	if hybridUsed {
		// Hybrid and dense scores live on different scales; rank fusion makes
		// them comparable across collections.
		merged = fuseRRF(lists, DefaultRRFK)
		resp.Metadata.RetrievalMethod = "hybrid"
	} else {
		merged = mergeByScore(lists)
		resp.Metadata.RetrievalMethod = "dense"
	}
	if len(merged) > topK {
		merged = merged[:topK]
	}

	if p.reranker != nil && len(merged) > 0 {
		merged, err = p.rerank(ctx, req.Query, merged)
		if err != nil {
			p.logger.Warn("rerank failed, keeping fused order", zap.Error(err))
		} else {
			resp.Metadata.RetrievalMethod += "+rerank"
		}
	}

	resp.Results = merged
	resp.Metadata.Timing.TotalMs = time.Since(start).Milliseconds()
	return resp, nil
}

// resolveTargets expands dataset patterns into concrete collections. Datasets
// whose collection has never been materialised in the vector store are
// skipped rather than failing the whole request.
func (p *Planner) resolveTargets(ctx context.Context, project string, pred Predicate) ([]searchTarget, error) {
	proj, err := p.catalog.GetProject(ctx, project)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project %q: %w", project, err)
	}

	datasets, err := p.catalog.AccessibleDatasets(ctx, proj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accessible datasets: %w", err)
	}

	var targets []searchTarget
	for _, d := range datasets {
		if !pred(d.Name) {
			continue
		}
		t := searchTarget{dataset: d}
		dc, err := p.catalog.GetDatasetCollection(ctx, d.ID)
		switch {
		case err == nil:
			t.collection = dc.CollectionName
			t.hybrid = dc.IsHybrid
		case errors.Is(err, store.ErrNotFound):
			// No mapping row yet; fall back to the deterministic name and let
			// the existence check below decide.
			t.collection = scope.CollectionNameFor(d.ProjectID, d.ID, d.Scope)
		default:
			return nil, fmt.Errorf("failed to resolve collection for dataset %s: %w", d.Name, err)
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	existing, err := p.vectors.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[name] = true
	}

	live := targets[:0]
	for _, t := range targets {
		if !known[t.collection] {
			p.logger.Debug("skipping unmaterialised dataset",
				zap.String("dataset", t.dataset.Name),
				zap.String("collection", t.collection))
			continue
		}
		live = append(live, t)
	}
	return live, nil
}

// fanOut queries every target collection. Each search is constrained to the
// target's own dataset and owning project, so a collection can never leak
// chunks from a dataset outside the accessible set. A failing collection
// degrades the response to partial results; the request only fails when no
// collection answered.
func (p *Planner) fanOut(ctx context.Context, targets []searchTarget, dense []float32, sparse *vector.SparseVector, filters Filters, limit int) ([][]Result, bool, error) {
	lists := make([][]Result, 0, len(targets))
	hybridUsed := false
	var firstErr error

	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		filter := vector.Filter{
			ProjectID:  t.dataset.ProjectID.String(),
			DatasetIDs: []string{t.dataset.ID.String()},
			SourceType: filters.SourceType,
			Repo:       filters.Repo,
			PathPrefix: filters.PathPrefix,
			Lang:       filters.Lang,
		}

		var (
			hits []vector.SearchResult
			err  error
		)
		if t.hybrid && sparse != nil && p.hybridAvailable() {
			hits, err = p.vectors.HybridSearch(ctx, t.collection, dense, sparse, filter, limit)
			hybridUsed = true
		} else {
			hits, err = p.vectors.Search(ctx, t.collection, dense, filter, limit)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("search failed for dataset %s: %w", t.dataset.Name, err)
			}
			p.logger.Warn("collection search failed, returning partial results",
				zap.String("dataset", t.dataset.Name), zap.Error(err))
			continue
		}

		list := make([]Result, 0, len(hits))
		for _, h := range hits {
			list = append(list, Result{
				ID:      h.ID,
				Content: h.Payload.Content,
				Dataset: t.dataset.Name,
				Scores:  Scores{Vector: h.Score, Final: h.Score},
				Source:  h.Payload,
			})
		}
		lists = append(lists, list)
	}
	if len(lists) == 0 && firstErr != nil {
		return nil, false, firstErr
	}
	return lists, hybridUsed, nil
}

// rerank rescores candidates against the query and reorders by the new score.
func (p *Planner) rerank(ctx context.Context, query string, candidates []Result) ([]Result, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}
	scores, err := p.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return candidates, err
	}
	if len(scores) != len(candidates) {
		return candidates, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}

	reranked := make([]Result, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		reranked[i].Scores.Rerank = scores[i]
		reranked[i].Scores.Final = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Scores.Final > reranked[j].Scores.Final
	})
	return reranked, nil
}

func (p *Planner) hybridAvailable() bool {
	return p.opts.EnableHybrid && p.sparse != nil && p.vectors.SupportsHybrid()
}
