package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpsertDatasetCollection records the single vector collection backing a
// dataset. Also mirrors the row into collections_metadata, which legacy
// tooling reads by collection name.
func (s *Store) UpsertDatasetCollection(ctx context.Context, dc DatasetCollection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claude_context.dataset_collections
		   (dataset_id, collection_name, dimension, is_hybrid)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (dataset_id) DO UPDATE SET
		   dimension = EXCLUDED.dimension,
		   is_hybrid = EXCLUDED.is_hybrid`,
		dc.DatasetID, dc.CollectionName, dc.Dimension, dc.IsHybrid)
	if err != nil {
		return mapErr(err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO claude_context.collections_metadata (collection_name, dimension, is_hybrid)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (collection_name) DO UPDATE SET
		   dimension = EXCLUDED.dimension,
		   is_hybrid = EXCLUDED.is_hybrid`,
		dc.CollectionName, dc.Dimension, dc.IsHybrid)
	return mapErr(err)
}

// GetDatasetCollection loads the collection mapping for a dataset.
func (s *Store) GetDatasetCollection(ctx context.Context, datasetID uuid.UUID) (*DatasetCollection, error) {
	dc := &DatasetCollection{}
	err := s.pool.QueryRow(ctx,
		`SELECT dataset_id, collection_name, dimension, is_hybrid, point_count, last_indexed_at
		 FROM claude_context.dataset_collections WHERE dataset_id = $1`, datasetID).
		Scan(&dc.DatasetID, &dc.CollectionName, &dc.Dimension, &dc.IsHybrid,
			&dc.PointCount, &dc.LastIndexedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return dc, nil
}

// RefreshPointCount updates the cached point count. The vector store is
// authoritative; this cache only feeds stats snapshots.
func (s *Store) RefreshPointCount(ctx context.Context, datasetID uuid.UUID, pointCount int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE claude_context.dataset_collections
		 SET point_count = $2 WHERE dataset_id = $1`,
		datasetID, pointCount)
	return mapErr(err)
}

// TouchLastIndexed stamps the dataset collection after a successful sync.
func (s *Store) TouchLastIndexed(ctx context.Context, datasetID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE claude_context.dataset_collections
		 SET last_indexed_at = $2 WHERE dataset_id = $1`,
		datasetID, at)
	return mapErr(err)
}
