package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreateCrawlSession records a new crawl keyed by (dataset_id, external_id).
// Re-creating an existing session returns the stored row.
func (s *Store) CreateCrawlSession(ctx context.Context, datasetID uuid.UUID, externalID string, metadata map[string]any) (*CrawlSession, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claude_context.crawl_sessions (id, dataset_id, external_id, metadata)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (dataset_id, external_id) DO NOTHING`,
		uuid.New(), datasetID, externalID, metadata)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.GetCrawlSession(ctx, datasetID, externalID)
}

// GetCrawlSession loads a crawl session.
func (s *Store) GetCrawlSession(ctx context.Context, datasetID uuid.UUID, externalID string) (*CrawlSession, error) {
	cs := &CrawlSession{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, dataset_id, external_id, status, pages_crawled, pages_failed,
		        metadata, started_at, completed_at
		 FROM claude_context.crawl_sessions
		 WHERE dataset_id = $1 AND external_id = $2`,
		datasetID, externalID).
		Scan(&cs.ID, &cs.DatasetID, &cs.ExternalID, &cs.Status, &cs.PagesCrawled,
			&cs.PagesFailed, &cs.Metadata, &cs.StartedAt, &cs.CompletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return cs, nil
}

// CrawlSessionPatch carries an incremental progress update for a session.
type CrawlSessionPatch struct {
	Status       string
	PagesCrawled int
	PagesFailed  int
	// Metadata keys are merged into the stored JSONB document.
	Metadata map[string]any
}

// PatchCrawlSession merges a progress tick into the session row. Terminal
// statuses also stamp completed_at.
func (s *Store) PatchCrawlSession(ctx context.Context, datasetID uuid.UUID, externalID string, patch CrawlSessionPatch) error {
	if patch.Metadata == nil {
		patch.Metadata = map[string]any{}
	}

	var completedAt *time.Time
	switch patch.Status {
	case "completed", "failed", "cancelled":
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE claude_context.crawl_sessions
		 SET status = COALESCE(NULLIF($3, ''), status),
		     pages_crawled = GREATEST(pages_crawled, $4),
		     pages_failed = GREATEST(pages_failed, $5),
		     metadata = metadata || $6::jsonb,
		     completed_at = COALESCE($7, completed_at)
		 WHERE dataset_id = $1 AND external_id = $2`,
		datasetID, externalID, patch.Status, patch.PagesCrawled,
		patch.PagesFailed, patch.Metadata, completedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentCrawl is one row of the recent-crawl snapshot used by the metadata
// monitor.
type RecentCrawl struct {
	SessionID    string
	Project      string
	Dataset      string
	Status       string
	PagesCrawled int
	PagesFailed  int
	DurationMs   int64
}

// RecentCrawls returns the most recent crawl sessions across all projects.
func (s *Store) RecentCrawls(ctx context.Context, limit int) ([]RecentCrawl, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT cs.external_id, COALESCE(p.name, ''), COALESCE(d.name, ''),
		        cs.status, cs.pages_crawled, cs.pages_failed,
		        CAST(EXTRACT(EPOCH FROM (COALESCE(cs.completed_at, NOW()) - cs.started_at)) * 1000 AS BIGINT)
		 FROM claude_context.crawl_sessions cs
		 LEFT JOIN claude_context.datasets d ON d.id = cs.dataset_id
		 LEFT JOIN claude_context.projects p ON p.id = d.project_id
		 ORDER BY cs.started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var crawls []RecentCrawl
	for rows.Next() {
		var rc RecentCrawl
		if err := rows.Scan(&rc.SessionID, &rc.Project, &rc.Dataset, &rc.Status,
			&rc.PagesCrawled, &rc.PagesFailed, &rc.DurationMs); err != nil {
			return nil, err
		}
		crawls = append(crawls, rc)
	}
	return crawls, rows.Err()
}
