package store

import (
	"context"

	"github.com/google/uuid"
)

// UpsertFile records sync state for one file, keyed by
// (project_id, dataset_id, relative_path). Single-statement and atomic.
func (s *Store) UpsertFile(ctx context.Context, f IndexedFile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claude_context.indexed_files
		   (project_id, dataset_id, relative_path, sha256_hash, file_size, chunk_count, language, collection_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id, dataset_id, relative_path) DO UPDATE SET
		   sha256_hash = EXCLUDED.sha256_hash,
		   file_size = EXCLUDED.file_size,
		   chunk_count = EXCLUDED.chunk_count,
		   language = EXCLUDED.language,
		   collection_name = EXCLUDED.collection_name,
		   updated_at = NOW()`,
		f.ProjectID, f.DatasetID, f.RelativePath, f.SHA256Hash,
		f.FileSize, f.ChunkCount, f.Language, f.CollectionName)
	return mapErr(err)
}

// UpdateFilePath moves a file row to a new relative path (rename).
func (s *Store) UpdateFilePath(ctx context.Context, projectID, datasetID uuid.UUID, oldPath, newPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claude_context.indexed_files
		 SET relative_path = $4, updated_at = NOW()
		 WHERE project_id = $1 AND dataset_id = $2 AND relative_path = $3`,
		projectID, datasetID, oldPath, newPath)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveFile deletes a file row. Removing an absent row is not an error.
func (s *Store) RemoveFile(ctx context.Context, projectID, datasetID uuid.UUID, relativePath string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM claude_context.indexed_files
		 WHERE project_id = $1 AND dataset_id = $2 AND relative_path = $3`,
		projectID, datasetID, relativePath)
	return mapErr(err)
}

// GetAllFiles loads every indexed file for a (project, dataset) pair, keyed
// by relative path. This is the stored side of change detection.
func (s *Store) GetAllFiles(ctx context.Context, projectID, datasetID uuid.UUID) (map[string]*IndexedFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, dataset_id, relative_path, sha256_hash, file_size,
		        chunk_count, language, collection_name, created_at, updated_at
		 FROM claude_context.indexed_files
		 WHERE project_id = $1 AND dataset_id = $2`,
		projectID, datasetID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	files := make(map[string]*IndexedFile)
	for rows.Next() {
		f := &IndexedFile{}
		if err := rows.Scan(&f.ProjectID, &f.DatasetID, &f.RelativePath, &f.SHA256Hash,
			&f.FileSize, &f.ChunkCount, &f.Language, &f.CollectionName,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files[f.RelativePath] = f
	}
	return files, rows.Err()
}

// ClearDataset drops all file metadata for a dataset. Used by force reindex
// so every file on disk is treated as created.
func (s *Store) ClearDataset(ctx context.Context, projectID, datasetID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM claude_context.indexed_files
		 WHERE project_id = $1 AND dataset_id = $2`,
		projectID, datasetID)
	return mapErr(err)
}

// StatsByLanguage aggregates indexed files per detected language.
func (s *Store) StatsByLanguage(ctx context.Context, projectID, datasetID uuid.UUID) ([]LanguageStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(NULLIF(language, ''), 'unknown'),
		        COUNT(*), COALESCE(SUM(chunk_count), 0), COALESCE(SUM(file_size), 0)
		 FROM claude_context.indexed_files
		 WHERE project_id = $1 AND dataset_id = $2
		 GROUP BY 1 ORDER BY 2 DESC`,
		projectID, datasetID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var stats []LanguageStats
	for rows.Next() {
		var ls LanguageStats
		if err := rows.Scan(&ls.Language, &ls.FileCount, &ls.ChunkCount, &ls.TotalBytes); err != nil {
			return nil, err
		}
		stats = append(stats, ls)
	}
	return stats, rows.Err()
}
