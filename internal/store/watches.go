package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// WatchConfig is a persisted file-watch registration. The row is the source
// of truth; a sidecar JSON file backs it up so configs survive database
// resets.
type WatchConfig struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectId"`

	// ProjectName keys the watcher's bus events the same way the monitors
	// key theirs, so project-scoped subscribers see both.
	ProjectName string `json:"projectName"`

	DatasetID  uuid.UUID `json:"datasetId"`
	Path       string    `json:"path"`
	Enabled    bool      `json:"enabled"`
	AutoStart  bool      `json:"autoStart"`
	DebounceMs int       `json:"debounceMs"`
}

// WatchConfigID derives a stable ID from the watch identity so re-registering
// the same path is an update, not a duplicate.
func WatchConfigID(projectID, datasetID uuid.UUID, path string) uuid.UUID {
	name := fmt.Sprintf("watch:%s:%s:%s", projectID, datasetID, path)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}

// UpsertWatchConfig creates or updates a watch registration.
func (s *Store) UpsertWatchConfig(ctx context.Context, w WatchConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claude_context.watch_configs
		   (id, project_id, dataset_id, path, enabled, auto_start, debounce_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (project_id, dataset_id, path) DO UPDATE SET
		   enabled = EXCLUDED.enabled,
		   auto_start = EXCLUDED.auto_start,
		   debounce_ms = EXCLUDED.debounce_ms,
		   updated_at = NOW()`,
		w.ID, w.ProjectID, w.DatasetID, w.Path, w.Enabled, w.AutoStart, w.DebounceMs)
	return mapErr(err)
}

// ListWatchConfigs returns all watch registrations with the owning project
// name resolved.
func (s *Store) ListWatchConfigs(ctx context.Context) ([]WatchConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT w.id, w.project_id, p.name, w.dataset_id, w.path,
		        w.enabled, w.auto_start, w.debounce_ms
		 FROM claude_context.watch_configs w
		 JOIN claude_context.projects p ON p.id = w.project_id
		 ORDER BY w.created_at`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var configs []WatchConfig
	for rows.Next() {
		var w WatchConfig
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.ProjectName, &w.DatasetID,
			&w.Path, &w.Enabled, &w.AutoStart, &w.DebounceMs); err != nil {
			return nil, err
		}
		configs = append(configs, w)
	}
	return configs, rows.Err()
}

// SetWatchEnabled flips a watch on or off.
func (s *Store) SetWatchEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claude_context.watch_configs
		 SET enabled = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, enabled)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWatchConfig removes a watch registration.
func (s *Store) DeleteWatchConfig(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM claude_context.watch_configs WHERE id = $1`, id)
	return mapErr(err)
}
