package query

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/vector"
)

type fakeCatalog struct {
	projects    map[string]*store.Project
	datasets    map[uuid.UUID][]*store.Dataset
	collections map[uuid.UUID]*store.DatasetCollection
}

func (f *fakeCatalog) GetProject(_ context.Context, name string) (*store.Project, error) {
	p, ok := f.projects[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) AccessibleDatasets(_ context.Context, projectID uuid.UUID) ([]*store.Dataset, error) {
	return f.datasets[projectID], nil
}

func (f *fakeCatalog) GetDatasetCollection(_ context.Context, datasetID uuid.UUID) (*store.DatasetCollection, error) {
	dc, ok := f.collections[datasetID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dc, nil
}

// fakeSearchStore serves canned hits per collection and honours the dataset
// filter the way the real store does.
type fakeSearchStore struct {
	mu       sync.Mutex
	hits     map[string][]vector.SearchResult
	searched []string
	hybrid   bool
}

func (f *fakeSearchStore) SupportsHybrid() bool { return f.hybrid }

func (f *fakeSearchStore) EnsureCollection(context.Context, string, int, bool) error { return nil }
func (f *fakeSearchStore) DropCollection(context.Context, string) error              { return nil }
func (f *fakeSearchStore) HasCollection(context.Context, string) (bool, error)       { return true, nil }

func (f *fakeSearchStore) ListCollections(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.hits))
	for name := range f.hits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeSearchStore) Upsert(context.Context, string, []vector.Document) error { return nil }
func (f *fakeSearchStore) DeleteByIDs(context.Context, string, []string) error     { return nil }
func (f *fakeSearchStore) DeleteByFilter(context.Context, string, vector.Filter) error {
	return nil
}
func (f *fakeSearchStore) UpdatePayloadPath(context.Context, string, vector.Filter, string) error {
	return nil
}

func (f *fakeSearchStore) Search(_ context.Context, collection string, _ []float32, filter vector.Filter, limit int) ([]vector.SearchResult, error) {
	f.mu.Lock()
	f.searched = append(f.searched, collection)
	f.mu.Unlock()

	allowed := make(map[string]bool, len(filter.DatasetIDs))
	for _, id := range filter.DatasetIDs {
		allowed[id] = true
	}

	var out []vector.SearchResult
	for _, h := range f.hits[collection] {
		if len(allowed) > 0 && !allowed[h.Payload.DatasetID] {
			continue
		}
		if filter.SourceType != "" && h.Payload.SourceType != filter.SourceType {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSearchStore) HybridSearch(ctx context.Context, collection string, dense []float32, _ *vector.SparseVector, filter vector.Filter, limit int) ([]vector.SearchResult, error) {
	return f.Search(ctx, collection, dense, filter, limit)
}

func (f *fakeSearchStore) Count(context.Context, string, vector.Filter) (int64, error) {
	return 0, nil
}
func (f *fakeSearchStore) Close() error { return nil }

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(context.Context, string) ([]float32, int, error) {
	return []float32{1, 0}, 2, nil
}

func (fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fixedEmbedder) Dimension(context.Context) (int, error) { return 2, nil }

// planFixture wires a project with eight datasets, one materialised
// collection per dataset, and one hit per dataset.
type planFixture struct {
	catalog *fakeCatalog
	vectors *fakeSearchStore
	project *store.Project
	byName  map[string]*store.Dataset
}

func newPlanFixture(t *testing.T, names ...string) *planFixture {
	t.Helper()
	if len(names) == 0 {
		names = []string{
			"api-dev", "api-prod", "db-dev", "db-prod",
			"github-main", "github-dev", "docs", "cache",
		}
	}

	project := &store.Project{ID: uuid.New(), Name: "demo"}
	f := &planFixture{
		catalog: &fakeCatalog{
			projects:    map[string]*store.Project{"demo": project},
			datasets:    make(map[uuid.UUID][]*store.Dataset),
			collections: make(map[uuid.UUID]*store.DatasetCollection),
		},
		vectors: &fakeSearchStore{hits: make(map[string][]vector.SearchResult)},
		project: project,
		byName:  make(map[string]*store.Dataset),
	}

	for _, name := range names {
		d := &store.Dataset{ID: uuid.New(), ProjectID: project.ID, Name: name, Scope: store.ScopeLocal}
		f.catalog.datasets[project.ID] = append(f.catalog.datasets[project.ID], d)
		f.byName[name] = d

		collection := "ds_" + name
		f.catalog.collections[d.ID] = &store.DatasetCollection{
			DatasetID: d.ID, CollectionName: collection, Dimension: 2,
		}
		f.vectors.hits[collection] = []vector.SearchResult{{
			ID:    uuid.New().String(),
			Score: 0.9,
			Payload: vector.Payload{
				Content:   "chunk from " + name,
				ProjectID: project.ID.String(),
				DatasetID: d.ID.String(),
			},
		}}
	}
	return f
}

func (f *planFixture) planner(t *testing.T, opts PlannerOptions) *Planner {
	t.Helper()
	return NewPlanner(f.catalog, f.vectors, fixedEmbedder{}, nil, nil, opts, nil)
}

func resultDatasets(results []Result) []string {
	var names []string
	for _, r := range results {
		names = append(names, r.Dataset)
	}
	sort.Strings(names)
	return names
}

func TestPlanner_UnknownProjectIsEmptyNotCreated(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t)
	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project: "nonexistent",
		Query:   "anything",
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.Equal(t, "none", resp.Metadata.RetrievalMethod)
	assert.Empty(t, f.vectors.searched, "no collection is queried for an unknown project")
	assert.NotContains(t, f.catalog.projects, "nonexistent")
}

func TestPlanner_ExpandsEnvAlias(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t)
	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project:  "demo",
		Datasets: []string{"env:dev"},
		Query:    "handler",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"api-dev", "db-dev", "github-dev"}, resultDatasets(resp.Results))
	assert.Equal(t, 3, resp.Metadata.QueriesExecuted)
	assert.Equal(t, "dense", resp.Metadata.RetrievalMethod)
}

func TestPlanner_ExpandsGlobAndWildcard(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t)
	p := f.planner(t, PlannerOptions{})

	resp, err := p.Search(context.Background(), Request{
		Project: "demo", Datasets: []string{"github-*"}, Query: "q",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"github-dev", "github-main"}, resultDatasets(resp.Results))

	resp, err = p.Search(context.Background(), Request{
		Project: "demo", Datasets: []string{"*"}, Query: "q",
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 8, "wildcard reaches every accessible dataset")
}

func TestPlanner_InvalidPatternsDroppedAndReported(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t)
	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project:  "demo",
		Datasets: []string{"env:staging", "docs"},
		Query:    "q",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"env:staging"}, resp.Metadata.InvalidPatterns)
	assert.Equal(t, []string{"docs"}, resultDatasets(resp.Results))
}

func TestPlanner_SkipsUnmaterialisedCollections(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t, "api-dev", "db-dev")
	// db-dev never had a sync, so its collection does not exist yet.
	delete(f.vectors.hits, "ds_db-dev")

	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project: "demo", Datasets: []string{"env:dev"}, Query: "q",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"api-dev"}, resultDatasets(resp.Results))
	assert.Equal(t, []string{"ds_api-dev"}, f.vectors.searched)
}

func TestPlanner_NeverSearchesInaccessibleDatasets(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t, "api-dev")

	// A foreign dataset exists in the vector store but is not in the
	// accessible set for this project.
	secret := &store.Dataset{ID: uuid.New(), ProjectID: uuid.New(), Name: "secret"}
	f.vectors.hits["ds_secret"] = []vector.SearchResult{{
		ID: uuid.New().String(), Score: 0.99,
		Payload: vector.Payload{Content: "hidden", DatasetID: secret.ID.String()},
	}}

	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project: "demo", Query: "q",
	})
	require.NoError(t, err)

	assert.NotContains(t, f.vectors.searched, "ds_secret")
	for _, r := range resp.Results {
		assert.NotEqual(t, "secret", r.Dataset)
		assert.NotEqual(t, secret.ID.String(), r.Source.DatasetID)
	}
}

func TestPlanner_DedupesByIDKeepingBestScore(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t, "api-dev", "db-dev")
	shared := uuid.New().String()
	f.vectors.hits["ds_api-dev"] = []vector.SearchResult{{
		ID: shared, Score: 0.5,
		Payload: vector.Payload{Content: "dup", DatasetID: f.byName["api-dev"].ID.String()},
	}}
	f.vectors.hits["ds_db-dev"] = []vector.SearchResult{{
		ID: shared, Score: 0.8,
		Payload: vector.Payload{Content: "dup", DatasetID: f.byName["db-dev"].ID.String()},
	}}

	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project: "demo", Query: "q",
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 0.8, resp.Results[0].Scores.Final, 1e-6)
}

func TestPlanner_TopKBoundsMergedResults(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t)
	resp, err := f.planner(t, PlannerOptions{}).Search(context.Background(), Request{
		Project: "demo", Query: "q", TopK: 3,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

type fixedReranker struct{ scores []float32 }

func (r fixedReranker) Rerank(_ context.Context, _ string, texts []string) ([]float32, error) {
	return r.scores[:len(texts)], nil
}

func TestPlanner_RerankReorders(t *testing.T) {
	t.Parallel()

	f := newPlanFixture(t, "api-dev", "db-dev")
	f.vectors.hits["ds_api-dev"][0].Score = 0.9
	f.vectors.hits["ds_db-dev"][0].Score = 0.5

	// The reranker prefers the candidate dense search ranked second.
	p := NewPlanner(f.catalog, f.vectors, fixedEmbedder{}, nil,
		fixedReranker{scores: []float32{0.1, 0.95}}, PlannerOptions{}, nil)

	resp, err := p.Search(context.Background(), Request{Project: "demo", Query: "q"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "db-dev", resp.Results[0].Dataset)
	assert.Equal(t, "dense+rerank", resp.Metadata.RetrievalMethod)
	assert.InDelta(t, 0.95, resp.Results[0].Scores.Final, 1e-6)
	assert.InDelta(t, 0.5, resp.Results[0].Scores.Vector, 1e-6, "original score is preserved")
}

func TestFuseRRF_RewardsAgreementAcrossLists(t *testing.T) {
	t.Parallel()

	both := Result{ID: "both", Scores: Scores{Vector: 0.4}}
	lists := [][]Result{
		{{ID: "a", Scores: Scores{Vector: 0.9}}, both},
		{{ID: "b", Scores: Scores{Vector: 0.8}}, both},
	}

	fused := fuseRRF(lists, DefaultRRFK)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].ID, "a chunk present in both lists wins")
}
