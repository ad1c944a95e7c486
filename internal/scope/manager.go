package scope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/store"
)

// Registry is the slice of the relational store the scope manager needs.
// *store.Store satisfies it; tests supply fakes.
type Registry interface {
	EnsureProject(ctx context.Context, name string) (*store.Project, error)
	EnsureDataset(ctx context.Context, projectID uuid.UUID, name string, scope store.ScopeLevel) (*store.Dataset, error)
	AccessibleDatasets(ctx context.Context, projectID uuid.UUID) ([]*store.Dataset, error)
	IsAccessible(ctx context.Context, projectID uuid.UUID, resourceType string, resourceID uuid.UUID) (bool, error)
}

// resolution is one cached name lookup. Projects cache id+isGlobal, datasets
// cache id+scope; neither attribute changes after creation, so the short TTL
// only bounds how long a deleted scope lingers.
type resolution struct {
	id       uuid.UUID
	isGlobal bool
	scope    store.ScopeLevel
}

// Manager resolves project and dataset names to durable IDs and derives
// vector collection names. Name resolution is cached briefly since projects
// and datasets are never renamed once created.
type Manager struct {
	registry Registry
	cache    otter.Cache[string, resolution]
	logger   *zap.Logger
}

// NewManager creates a scope manager.
func NewManager(registry Registry, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := otter.MustBuilder[string, resolution](10_000).
		WithTTL(time.Minute).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scope cache: %w", err)
	}

	return &Manager{
		registry: registry,
		cache:    cache,
		logger:   logger.Named("scope"),
	}, nil
}

// ResolveProject maps a project name to its durable ID, creating the project
// on first reference.
func (m *Manager) ResolveProject(ctx context.Context, name string) (uuid.UUID, bool, error) {
	if r, ok := m.cache.Get("p:" + name); ok {
		return r.id, r.isGlobal, nil
	}

	p, err := m.registry.EnsureProject(ctx, name)
	if err != nil {
		return uuid.Nil, false, err
	}
	m.cache.Set("p:"+name, resolution{id: p.ID, isGlobal: p.IsGlobal})
	return p.ID, p.IsGlobal, nil
}

// ResolveDataset maps (projectID, name) to the dataset's durable ID, creating
// it on first reference. scopeHint selects the visibility default for a new
// dataset and is ignored for existing ones.
func (m *Manager) ResolveDataset(ctx context.Context, projectID uuid.UUID, name string, scopeHint store.ScopeLevel) (uuid.UUID, store.ScopeLevel, error) {
	key := "d:" + projectID.String() + ":" + name
	if r, ok := m.cache.Get(key); ok {
		return r.id, r.scope, nil
	}

	d, err := m.registry.EnsureDataset(ctx, projectID, name, scopeHint)
	if err != nil {
		return uuid.Nil, "", err
	}
	m.cache.Set(key, resolution{id: d.ID, scope: d.Scope})
	return d.ID, d.Scope, nil
}

// CollectionNameFor derives the vector collection name for a dataset.
// Deterministic and stateless: a stable hash of (projectID, datasetID)
// suffixed with a short scope tag. The same inputs always produce the same
// name and distinct datasets never collide because the dataset ID feeds the
// hash.
func CollectionNameFor(projectID, datasetID uuid.UUID, scope store.ScopeLevel) string {
	sum := sha256.Sum256([]byte(projectID.String() + ":" + datasetID.String()))
	tag := "l"
	switch scope {
	case store.ScopeGlobal:
		tag = "g"
	case store.ScopeProject:
		tag = "p"
	}
	return "ds_" + hex.EncodeToString(sum[:8]) + "_" + tag
}

// AccessibleDatasets returns the datasets visible from projectID whose names
// match the predicate. A nil predicate admits everything.
func (m *Manager) AccessibleDatasets(ctx context.Context, projectID uuid.UUID, match func(name string) bool) ([]*store.Dataset, error) {
	datasets, err := m.registry.AccessibleDatasets(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return datasets, nil
	}

	filtered := datasets[:0:0]
	for _, d := range datasets {
		if match(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// IsAccessible reports whether a resource is visible from projectID.
func (m *Manager) IsAccessible(ctx context.Context, projectID uuid.UUID, resourceType string, resourceID uuid.UUID) (bool, error) {
	return m.registry.IsAccessible(ctx, projectID, resourceType, resourceID)
}
