package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultRetryBackoffBase is the first retry delay; each retry doubles it.
const DefaultRetryBackoffBase = 30 * time.Second

// maxBackoff caps the exponential retry delay.
const maxBackoff = 30 * time.Minute

// Backoff returns the delay before a failed job becomes visible again.
// Exponential: base * 2^(retry-1), capped.
func Backoff(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		base = DefaultRetryBackoffBase
	}
	if retry < 1 {
		retry = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(retry-1)))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

const jobColumns = `id, project_id, dataset_id, repo_url, repo_org, repo_name, branch, sha,
	status, progress, current_phase, current_file, error, retry_count, max_retries,
	priority, visible_at, indexed_files, total_chunks, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*GitHubJob, error) {
	j := &GitHubJob{}
	err := row.Scan(&j.ID, &j.ProjectID, &j.DatasetID, &j.RepoURL, &j.RepoOrg, &j.RepoName,
		&j.Branch, &j.SHA, &j.Status, &j.Progress, &j.CurrentPhase, &j.CurrentFile,
		&j.Error, &j.RetryCount, &j.MaxRetries, &j.Priority, &j.VisibleAt,
		&j.IndexedFiles, &j.TotalChunks, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return j, nil
}

// EnqueueJob inserts a pending ingestion job and returns it.
func (s *Store) EnqueueJob(ctx context.Context, j GitHubJob) (*GitHubJob, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	if j.Branch == "" {
		j.Branch = "main"
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO claude_context.github_jobs
		   (id, project_id, dataset_id, repo_url, repo_org, repo_name, branch, sha, max_retries, priority)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+jobColumns,
		j.ID, j.ProjectID, j.DatasetID, j.RepoURL, j.RepoOrg, j.RepoName,
		j.Branch, j.SHA, j.MaxRetries, j.Priority)
	return scanJob(row)
}

// DispatchJob atomically claims the single highest-priority pending job with
// visible_at <= now. Row-level locking with SKIP LOCKED lets N workers
// dispatch concurrently without contention. Returns ErrNotFound when the
// queue is empty.
func (s *Store) DispatchJob(ctx context.Context) (*GitHubJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM claude_context.github_jobs
		 WHERE status = 'pending' AND visible_at <= NOW()
		 ORDER BY priority DESC, created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`).Scan(&id)
	if err != nil {
		return nil, mapErr(err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE claude_context.github_jobs
		 SET status = 'in_progress', started_at = NOW(), current_phase = '', error = ''
		 WHERE id = $1
		 RETURNING `+jobColumns, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return job, nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*GitHubJob, error) {
	return scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM claude_context.github_jobs WHERE id = $1`, id))
}

// ListRecentJobs returns the newest jobs first, up to limit.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]*GitHubJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM claude_context.github_jobs
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var jobs []*GitHubJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, mapErr(rows.Err())
}

// JobProgressUpdate carries a progress tick for a running job.
type JobProgressUpdate struct {
	Progress     int
	CurrentPhase JobPhase
	CurrentFile  string
}

// UpdateJobProgress records progress for a running job. Progress is clamped
// monotonically non-decreasing at the database; each update fires the
// github_job_updates trigger.
func (s *Store) UpdateJobProgress(ctx context.Context, id uuid.UUID, u JobProgressUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claude_context.github_jobs
		 SET progress = GREATEST(progress, LEAST($2, 100)),
		     current_phase = $3,
		     current_file = $4
		 WHERE id = $1 AND status = 'in_progress'`,
		id, u.Progress, string(u.CurrentPhase), u.CurrentFile)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob marks a job completed and records its result counters.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, indexedFiles, totalChunks int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claude_context.github_jobs
		 SET status = 'completed', progress = 100, current_phase = 'finalize',
		     indexed_files = $2, total_chunks = $3, completed_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		id, indexedFiles, totalChunks)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not in progress", ErrConflict, id)
	}
	return nil
}

// FailJob records a failure. While retry_count < max_retries the job returns
// to pending with an exponentially delayed visible_at; otherwise it reaches
// terminal failed state. Returns the resulting status.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, jobErr string, backoffBase time.Duration) (JobStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", mapErr(err)
	}
	defer tx.Rollback(ctx)

	var retryCount, maxRetries int
	err = tx.QueryRow(ctx,
		`SELECT retry_count, max_retries FROM claude_context.github_jobs
		 WHERE id = $1 AND status = 'in_progress'
		 FOR UPDATE`, id).Scan(&retryCount, &maxRetries)
	if err != nil {
		return "", mapErr(err)
	}

	var status JobStatus
	if retryCount < maxRetries {
		status = JobPending
		next := retryCount + 1
		_, err = tx.Exec(ctx,
			`UPDATE claude_context.github_jobs
			 SET status = 'pending', error = $2, retry_count = $3,
			     visible_at = NOW() + $4::interval
			 WHERE id = $1`,
			id, jobErr, next, Backoff(backoffBase, next).String())
	} else {
		status = JobFailed
		_, err = tx.Exec(ctx,
			`UPDATE claude_context.github_jobs
			 SET status = 'failed', error = $2, completed_at = NOW()
			 WHERE id = $1`,
			id, jobErr)
	}
	if err != nil {
		return "", mapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", mapErr(err)
	}
	return status, nil
}

// CancelJob requests cancellation. Pending jobs cancel immediately; running
// workers observe the status flip at the next phase boundary.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claude_context.github_jobs
		 SET status = 'cancelled', completed_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'in_progress')`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is already terminal", ErrConflict, id)
	}
	return nil
}

// JobCancelled reports whether cancellation has been requested for a job.
// Workers call this at every phase boundary.
func (s *Store) JobCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var status JobStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM claude_context.github_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return false, mapErr(err)
	}
	return status == JobCancelled, nil
}

// CleanupTerminalJobs removes completed/failed/cancelled rows older than the
// retention window. Run by a maintenance loop, not by workers.
func (s *Store) CleanupTerminalJobs(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM claude_context.github_jobs
		 WHERE status IN ('completed', 'failed', 'cancelled')
		   AND completed_at < NOW() - $1::interval`,
		retention.String())
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
