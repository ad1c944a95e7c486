package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/crawler"
	"github.com/ctxstack/ctxd/internal/jobs"
	"github.com/ctxstack/ctxd/internal/query"
	"github.com/ctxstack/ctxd/internal/scope"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/syncer"
	"github.com/ctxstack/ctxd/internal/vector"
)

// targetCatalog is the lookup slice of the store the resolver needs.
type targetCatalog interface {
	GetDataset(ctx context.Context, datasetID uuid.UUID) (*store.Dataset, error)
	GetDatasetCollection(ctx context.Context, datasetID uuid.UUID) (*store.DatasetCollection, error)
}

// targetResolver maps (projectID, datasetID) to a sync target. Collections
// that have never been materialised fall back to the deterministic name.
type targetResolver struct {
	catalog      targetCatalog
	enableHybrid bool
}

func (r *targetResolver) ResolveTarget(ctx context.Context, projectID, datasetID uuid.UUID) (syncer.Target, error) {
	d, err := r.catalog.GetDataset(ctx, datasetID)
	if err != nil {
		return syncer.Target{}, fmt.Errorf("failed to resolve dataset %s: %w", datasetID, err)
	}
	if d.ProjectID != projectID {
		return syncer.Target{}, fmt.Errorf("%w: dataset %s does not belong to project %s",
			store.ErrConflict, datasetID, projectID)
	}

	target := syncer.Target{
		ProjectID: d.ProjectID,
		DatasetID: d.ID,
		Hybrid:    r.enableHybrid,
	}
	dc, err := r.catalog.GetDatasetCollection(ctx, d.ID)
	switch {
	case err == nil:
		target.Collection = dc.CollectionName
		target.Hybrid = dc.IsHybrid
	case errors.Is(err, store.ErrNotFound):
		target.Collection = scope.CollectionNameFor(d.ProjectID, d.ID, d.Scope)
	default:
		return syncer.Target{}, err
	}
	return target, nil
}

// SyncPath indexes a directory tree into (project, dataset), creating both on
// first reference. The dataset-to-collection mapping and the cached point
// count are refreshed after a successful sync.
func (e *Engine) SyncPath(ctx context.Context, path, project, dataset string, opts syncer.Options) (*syncer.Result, error) {
	projectID, _, err := e.Scopes.ResolveProject(ctx, project)
	if err != nil {
		return nil, err
	}
	datasetID, scopeLevel, err := e.Scopes.ResolveDataset(ctx, projectID, dataset, store.ScopeLocal)
	if err != nil {
		return nil, err
	}

	target := syncer.Target{
		ProjectID:  projectID,
		DatasetID:  datasetID,
		Collection: scope.CollectionNameFor(projectID, datasetID, scopeLevel),
		Hybrid:     e.resolver.enableHybrid,
	}
	res, err := e.Syncer.Sync(ctx, path, target, opts)
	if err != nil {
		return nil, err
	}

	e.recordCollection(ctx, target)
	return res, nil
}

// recordCollection refreshes the dataset's collection mapping row and its
// cached point count. Best effort; the vector store stays authoritative.
func (e *Engine) recordCollection(ctx context.Context, target syncer.Target) {
	dim, err := e.embedder.Dimension(ctx)
	if err != nil {
		return
	}
	if err := e.Store.UpsertDatasetCollection(ctx, store.DatasetCollection{
		DatasetID:      target.DatasetID,
		CollectionName: target.Collection,
		Dimension:      dim,
		IsHybrid:       target.Hybrid,
	}); err != nil {
		e.logger.Warn("failed to record collection mapping", zap.Error(err))
		return
	}
	if count, err := e.Vectors.Count(ctx, target.Collection, vector.Filter{}); err == nil {
		if err := e.Store.RefreshPointCount(ctx, target.DatasetID, count); err != nil {
			e.logger.Debug("point count refresh failed", zap.Error(err))
		}
	}
}

// RunSync runs one watcher-triggered incremental sync. Implements the watch
// registry's runner contract.
func (e *Engine) RunSync(ctx context.Context, cfg store.WatchConfig) (*syncer.Result, error) {
	target, err := e.resolver.ResolveTarget(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		return nil, err
	}
	res, err := e.Syncer.Sync(ctx, cfg.Path, target, syncer.Options{DetectRenames: true})
	if err != nil {
		return nil, err
	}
	e.recordCollection(ctx, target)
	return res, nil
}

// Query runs one retrieval request.
func (e *Engine) Query(ctx context.Context, req query.Request) (*query.Response, error) {
	return e.Planner.Search(ctx, req)
}

// EnqueueGitHubIngest registers a repository ingestion job and returns the
// queued row. The worker loop picks it up via LISTEN/NOTIFY or polling.
func (e *Engine) EnqueueGitHubIngest(ctx context.Context, project, dataset, repoURL, branch, sha string) (*store.GitHubJob, error) {
	projectID, _, err := e.Scopes.ResolveProject(ctx, project)
	if err != nil {
		return nil, err
	}
	datasetID, _, err := e.Scopes.ResolveDataset(ctx, projectID, dataset, store.ScopeLocal)
	if err != nil {
		return nil, err
	}

	org, name := parseRepo(repoURL)
	return e.Store.EnqueueJob(ctx, store.GitHubJob{
		ProjectID:  projectID,
		DatasetID:  datasetID,
		RepoURL:    repoURL,
		RepoOrg:    org,
		RepoName:   name,
		Branch:     branch,
		SHA:        sha,
		MaxRetries: e.cfg.Jobs.MaxRetries,
	})
}

// RunCrawl drives one crawl session to completion, streaming pages into the
// dataset as they arrive. The crawl monitor picks the session up for
// progress events.
func (e *Engine) RunCrawl(ctx context.Context, req crawler.CrawlRequest) (*jobs.CrawlSummary, error) {
	projectID, _, err := e.Scopes.ResolveProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	datasetID, scopeLevel, err := e.Scopes.ResolveDataset(ctx, projectID, req.Dataset, store.ScopeLocal)
	if err != nil {
		return nil, err
	}

	target := syncer.Target{
		ProjectID:  projectID,
		DatasetID:  datasetID,
		Collection: scope.CollectionNameFor(projectID, datasetID, scopeLevel),
	}
	summary, err := e.ingestor.Run(ctx, req, target, func(sessionID string) {
		e.crawlMon.Track(sessionID, datasetID, req.Project, req.Dataset)
	})
	if err != nil {
		return summary, err
	}
	e.recordCollection(ctx, target)
	return summary, nil
}

// parseRepo extracts (org, name) from common repository URL shapes.
func parseRepo(repoURL string) (string, string) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	trimmed = strings.TrimSuffix(trimmed, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", trimmed
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
