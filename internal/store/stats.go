package store

import (
	"context"
)

// ProjectStats is the per-project aggregate emitted by the metadata monitor.
type ProjectStats struct {
	Name     string `json:"name"`
	Datasets int    `json:"datasets"`
	Chunks   int64  `json:"chunks"`
	WebPages int64  `json:"webPages"`
}

// StatsSnapshot is the payload of a postgres:stats event.
type StatsSnapshot struct {
	Projects     []ProjectStats `json:"projects"`
	RecentCrawls []RecentCrawl  `json:"recentCrawls"`
}

// Snapshot runs the short aggregate query behind postgres:stats events.
func (s *Store) Snapshot(ctx context.Context) (*StatsSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.name,
		        COUNT(DISTINCT d.id),
		        COALESCE(SUM(dc.point_count), 0),
		        (SELECT COUNT(*) FROM claude_context.web_pages wp
		          JOIN claude_context.datasets wd ON wd.id = wp.dataset_id
		          WHERE wd.project_id = p.id)
		 FROM claude_context.projects p
		 LEFT JOIN claude_context.datasets d ON d.project_id = p.id
		 LEFT JOIN claude_context.dataset_collections dc ON dc.dataset_id = d.id
		 GROUP BY p.id, p.name
		 ORDER BY p.name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	snapshot := &StatsSnapshot{}
	for rows.Next() {
		var ps ProjectStats
		if err := rows.Scan(&ps.Name, &ps.Datasets, &ps.Chunks, &ps.WebPages); err != nil {
			return nil, err
		}
		snapshot.Projects = append(snapshot.Projects, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crawls, err := s.RecentCrawls(ctx, 10)
	if err != nil {
		return nil, err
	}
	snapshot.RecentCrawls = crawls
	return snapshot, nil
}
