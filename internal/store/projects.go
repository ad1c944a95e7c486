package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnsureProject fetches the project row by name, creating it on first
// reference. Project IDs are deterministic v5 UUIDs so re-creation after a
// database reset yields the same identifier.
func (s *Store) EnsureProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		name = "default"
	}

	p := &Project{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_global, created_at, updated_at
		 FROM claude_context.projects WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.IsGlobal, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return p, nil
	}

	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name))
	_, err = s.pool.Exec(ctx,
		`INSERT INTO claude_context.projects (id, name)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`, id, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create project %q: %w", name, mapErr(err))
	}

	err = s.pool.QueryRow(ctx,
		`SELECT id, name, is_global, created_at, updated_at
		 FROM claude_context.projects WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.IsGlobal, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %q: %w", name, mapErr(err))
	}
	return p, nil
}

// GetProject looks up a project by name without creating it.
func (s *Store) GetProject(ctx context.Context, name string) (*Project, error) {
	p := &Project{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_global, created_at, updated_at
		 FROM claude_context.projects WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.IsGlobal, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// EnsureDataset fetches the dataset row, creating it on first reference.
// Dataset names are unique within their project. The dataset ID is a
// deterministic v5 UUID over (projectID, name).
func (s *Store) EnsureDataset(ctx context.Context, projectID uuid.UUID, name string, scope ScopeLevel) (*Dataset, error) {
	if name == "" {
		name = "default"
	}
	if scope == "" {
		scope = ScopeLocal
	}

	d := &Dataset{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, COALESCE(scope, 'local'), is_global, created_at, updated_at
		 FROM claude_context.datasets WHERE project_id = $1 AND name = $2`,
		projectID, name).
		Scan(&d.ID, &d.ProjectID, &d.Name, &d.Scope, &d.IsGlobal, &d.CreatedAt, &d.UpdatedAt)
	if err == nil {
		return d, nil
	}

	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(projectID.String()+":"+name))
	_, err = s.pool.Exec(ctx,
		`INSERT INTO claude_context.datasets (id, project_id, name, scope, is_global)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (project_id, name) DO NOTHING`,
		id, projectID, name, scope, scope == ScopeGlobal)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset %q: %w", name, mapErr(err))
	}

	err = s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, COALESCE(scope, 'local'), is_global, created_at, updated_at
		 FROM claude_context.datasets WHERE project_id = $1 AND name = $2`,
		projectID, name).
		Scan(&d.ID, &d.ProjectID, &d.Name, &d.Scope, &d.IsGlobal, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %q: %w", name, mapErr(err))
	}
	return d, nil
}

// GetDataset looks up a dataset by ID.
func (s *Store) GetDataset(ctx context.Context, datasetID uuid.UUID) (*Dataset, error) {
	d := &Dataset{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, COALESCE(scope, 'local'), is_global, created_at, updated_at
		 FROM claude_context.datasets WHERE id = $1`, datasetID).
		Scan(&d.ID, &d.ProjectID, &d.Name, &d.Scope, &d.IsGlobal, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return d, nil
}

// AccessibleDatasets returns every dataset visible from projectID: owned by
// the project, globally shared, or explicitly shared to the project with
// can_read.
func (s *Store) AccessibleDatasets(ctx context.Context, projectID uuid.UUID) ([]*Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT d.id, d.project_id, d.name, COALESCE(d.scope, 'local'), d.is_global, d.created_at, d.updated_at
		 FROM claude_context.datasets d
		 LEFT JOIN claude_context.project_shares ps
		   ON ps.resource_type = 'dataset'
		  AND ps.resource_id = d.id
		  AND ps.target_project_id = $1
		  AND ps.can_read
		 WHERE d.project_id = $1
		    OR d.is_global
		    OR ps.resource_id IS NOT NULL
		 ORDER BY d.name`, projectID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var datasets []*Dataset
	for rows.Next() {
		d := &Dataset{}
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.Scope, &d.IsGlobal, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// CreateShare records a grant from one project to another. Self-shares are
// rejected before hitting the database constraint.
func (s *Store) CreateShare(ctx context.Context, share ProjectShare) error {
	if share.SourceProjectID == share.TargetProjectID {
		return fmt.Errorf("%w: cannot share a resource with its own project", ErrConflict)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claude_context.project_shares
		   (source_project_id, target_project_id, resource_type, resource_id, can_read, can_write)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source_project_id, target_project_id, resource_type, resource_id)
		 DO UPDATE SET can_read = EXCLUDED.can_read, can_write = EXCLUDED.can_write`,
		share.SourceProjectID, share.TargetProjectID, share.ResourceType,
		share.ResourceID, share.CanRead, share.CanWrite)
	return mapErr(err)
}

// IsAccessible reports whether a resource is visible from projectID via
// ownership, a global flag, or an explicit read grant.
func (s *Store) IsAccessible(ctx context.Context, projectID uuid.UUID, resourceType string, resourceID uuid.UUID) (bool, error) {
	switch resourceType {
	case "dataset":
		var ok bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM claude_context.datasets d
			   LEFT JOIN claude_context.project_shares ps
			     ON ps.resource_type = 'dataset'
			    AND ps.resource_id = d.id
			    AND ps.target_project_id = $1
			    AND ps.can_read
			   WHERE d.id = $2
			     AND (d.project_id = $1 OR d.is_global OR ps.resource_id IS NOT NULL)
			 )`, projectID, resourceID).Scan(&ok)
		return ok, mapErr(err)
	case "project":
		var ok bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM claude_context.projects p
			   LEFT JOIN claude_context.project_shares ps
			     ON ps.resource_type = 'project'
			    AND ps.resource_id = p.id
			    AND ps.target_project_id = $1
			    AND ps.can_read
			   WHERE p.id = $2
			     AND (p.id = $1 OR p.is_global OR ps.resource_id IS NOT NULL)
			 )`, projectID, resourceID).Scan(&ok)
		return ok, mapErr(err)
	default:
		return false, fmt.Errorf("unknown resource type %q", resourceType)
	}
}
