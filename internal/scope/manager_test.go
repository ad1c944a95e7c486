package scope

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxstack/ctxd/internal/store"
)

// fakeRegistry is an in-memory Registry for tests. The call counters let
// tests assert how many lookups actually reached the store.
type fakeRegistry struct {
	projects map[string]*store.Project
	datasets map[string]*store.Dataset // key: projectID + ":" + name
	shares   map[uuid.UUID]map[uuid.UUID]bool

	ensureProjectCalls int
	ensureDatasetCalls int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		projects: make(map[string]*store.Project),
		datasets: make(map[string]*store.Dataset),
		shares:   make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (f *fakeRegistry) EnsureProject(_ context.Context, name string) (*store.Project, error) {
	f.ensureProjectCalls++
	if p, ok := f.projects[name]; ok {
		return p, nil
	}
	p := &store.Project{ID: uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)), Name: name}
	f.projects[name] = p
	return p, nil
}

func (f *fakeRegistry) EnsureDataset(_ context.Context, projectID uuid.UUID, name string, scope store.ScopeLevel) (*store.Dataset, error) {
	f.ensureDatasetCalls++
	key := projectID.String() + ":" + name
	if d, ok := f.datasets[key]; ok {
		return d, nil
	}
	if scope == "" {
		scope = store.ScopeLocal
	}
	d := &store.Dataset{
		ID:        uuid.NewSHA1(uuid.NameSpaceDNS, []byte(key)),
		ProjectID: projectID,
		Name:      name,
		Scope:     scope,
		IsGlobal:  scope == store.ScopeGlobal,
	}
	f.datasets[key] = d
	return d, nil
}

func (f *fakeRegistry) AccessibleDatasets(_ context.Context, projectID uuid.UUID) ([]*store.Dataset, error) {
	var out []*store.Dataset
	for _, d := range f.datasets {
		if d.ProjectID == projectID || d.IsGlobal || f.shares[projectID][d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRegistry) IsAccessible(_ context.Context, projectID uuid.UUID, _ string, resourceID uuid.UUID) (bool, error) {
	for _, d := range f.datasets {
		if d.ID != resourceID {
			continue
		}
		return d.ProjectID == projectID || d.IsGlobal || f.shares[projectID][d.ID], nil
	}
	return false, nil
}

func TestCollectionNameFor_Deterministic(t *testing.T) {
	t.Parallel()

	projectID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte("alpha"))
	datasetID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte("alpha:code"))

	a := CollectionNameFor(projectID, datasetID, store.ScopeLocal)
	b := CollectionNameFor(projectID, datasetID, store.ScopeLocal)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^ds_[0-9a-f]{16}_l$`, a)
}

func TestCollectionNameFor_NoCollisions(t *testing.T) {
	t.Parallel()

	projectID := uuid.New()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		name := CollectionNameFor(projectID, uuid.New(), store.ScopeLocal)
		assert.False(t, seen[name], "collision at %d", i)
		seen[name] = true
	}
}

func TestCollectionNameFor_ScopeTag(t *testing.T) {
	t.Parallel()

	projectID, datasetID := uuid.New(), uuid.New()
	assert.NotEqual(t,
		CollectionNameFor(projectID, datasetID, store.ScopeGlobal),
		CollectionNameFor(projectID, datasetID, store.ScopeLocal))
}

func TestResolveProject_CreatesOnMiss(t *testing.T) {
	t.Parallel()

	m, err := NewManager(newFakeRegistry(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	id1, _, err := m.ResolveProject(ctx, "alpha")
	require.NoError(t, err)

	// Second resolution is stable.
	id2, _, err := m.ResolveProject(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Different project, different ID.
	id3, _, err := m.ResolveProject(ctx, "beta")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestResolveProject_HitsServeFromCache(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.projects["shared"] = &store.Project{
		ID:       uuid.NewSHA1(uuid.NameSpaceDNS, []byte("shared")),
		Name:     "shared",
		IsGlobal: true,
	}

	m, err := NewManager(reg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	id, global, err := m.ResolveProject(ctx, "shared")
	require.NoError(t, err)
	assert.True(t, global)

	// Repeat resolutions answer from the cache, IsGlobal included.
	for i := 0; i < 4; i++ {
		again, g, err := m.ResolveProject(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, id, again)
		assert.True(t, g)
	}
	assert.Equal(t, 1, reg.ensureProjectCalls)
}

func TestResolveDataset_HitsServeFromCache(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	m, err := NewManager(reg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	projectID, _, err := m.ResolveProject(ctx, "alpha")
	require.NoError(t, err)

	id, scope, err := m.ResolveDataset(ctx, projectID, "kb", store.ScopeGlobal)
	require.NoError(t, err)
	assert.Equal(t, store.ScopeGlobal, scope)

	// The hint on a hit is ignored and the stored scope comes back.
	again, scopeAgain, err := m.ResolveDataset(ctx, projectID, "kb", store.ScopeLocal)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, store.ScopeGlobal, scopeAgain)
	assert.Equal(t, 1, reg.ensureDatasetCalls)
}

func TestResolveDataset_UniquePerProject(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	m, err := NewManager(reg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	alphaID, _, err := m.ResolveProject(ctx, "alpha")
	require.NoError(t, err)
	betaID, _, err := m.ResolveProject(ctx, "beta")
	require.NoError(t, err)

	dsAlpha, scope, err := m.ResolveDataset(ctx, alphaID, "code", "")
	require.NoError(t, err)
	assert.Equal(t, store.ScopeLocal, scope)

	dsBeta, _, err := m.ResolveDataset(ctx, betaID, "code", "")
	require.NoError(t, err)

	// Same dataset name under different projects maps to distinct IDs.
	assert.NotEqual(t, dsAlpha, dsBeta)
}

func TestAccessibleDatasets_Visibility(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	m, err := NewManager(reg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	alphaID, _, err := m.ResolveProject(ctx, "alpha")
	require.NoError(t, err)
	betaID, _, err := m.ResolveProject(ctx, "beta")
	require.NoError(t, err)

	owned, _, err := m.ResolveDataset(ctx, alphaID, "code", "")
	require.NoError(t, err)
	_, _, err = m.ResolveDataset(ctx, betaID, "docs", "")
	require.NoError(t, err)
	global, _, err := m.ResolveDataset(ctx, betaID, "shared-kb", store.ScopeGlobal)
	require.NoError(t, err)

	datasets, err := m.AccessibleDatasets(ctx, alphaID, nil)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(datasets))
	for _, d := range datasets {
		ids[d.ID] = true
	}

	// Owned and global are visible; beta's local dataset is not.
	assert.True(t, ids[owned])
	assert.True(t, ids[global])
	assert.Len(t, ids, 2)
}

func TestIsAccessible_ExplicitShare(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	m, err := NewManager(reg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	alphaID, _, err := m.ResolveProject(ctx, "alpha")
	require.NoError(t, err)
	betaID, _, err := m.ResolveProject(ctx, "beta")
	require.NoError(t, err)

	ds, _, err := m.ResolveDataset(ctx, betaID, "docs", "")
	require.NoError(t, err)

	ok, err := m.IsAccessible(ctx, alphaID, "dataset", ds)
	require.NoError(t, err)
	assert.False(t, ok)

	reg.shares[alphaID] = map[uuid.UUID]bool{ds: true}

	ok, err = m.IsAccessible(ctx, alphaID, "dataset", ds)
	require.NoError(t, err)
	assert.True(t, ok)
}
