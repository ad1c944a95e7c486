package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/syncer"
)

// Queue is the job queue surface workers need. *store.Store satisfies it.
type Queue interface {
	DispatchJob(ctx context.Context) (*store.GitHubJob, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, u store.JobProgressUpdate) error
	CompleteJob(ctx context.Context, id uuid.UUID, indexedFiles, totalChunks int) error
	FailJob(ctx context.Context, id uuid.UUID, jobErr string, backoffBase time.Duration) (store.JobStatus, error)
	JobCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	CleanupTerminalJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// TargetResolver maps a job's project and dataset to its sync target. The
// engine wires this through the scope manager.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, projectID, datasetID uuid.UUID) (syncer.Target, error)
}

// Sync runs one incremental sync. *syncer.Syncer satisfies it.
type Sync interface {
	Sync(ctx context.Context, codebasePath string, target syncer.Target, opts syncer.Options) (*syncer.Result, error)
}

// errCancelled aborts a job run at a phase boundary.
var errCancelled = errors.New("job cancelled")

// WorkerOptions tune the ingestion worker.
type WorkerOptions struct {
	// PollInterval is the dispatch retry cadence when the queue is empty.
	PollInterval time.Duration

	// BackoffBase seeds the exponential retry delay for failed jobs.
	BackoffBase time.Duration

	// TempRoot hosts per-job clone directories. Empty uses the OS default.
	TempRoot string
}

// Worker runs the GitHub ingestion loop: dispatch, shallow-clone, full sync,
// complete or retry. Multiple workers may run against the same queue; SKIP
// LOCKED dispatch keeps them from colliding.
type Worker struct {
	queue    Queue
	resolver TargetResolver
	sync     Sync
	cloner   Cloner
	opts     WorkerOptions
	logger   *zap.Logger
}

// NewWorker creates an ingestion worker.
func NewWorker(queue Queue, resolver TargetResolver, sync Sync, cloner Cloner, opts WorkerOptions, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = store.DefaultRetryBackoffBase
	}
	if cloner == nil {
		cloner = GitCloner{}
	}
	return &Worker{
		queue:    queue,
		resolver: resolver,
		sync:     sync,
		cloner:   cloner,
		opts:     opts,
		logger:   logger.Named("worker"),
	}
}

// Run processes jobs until ctx is cancelled. wake may carry queue
// notifications so new jobs start without waiting out the poll interval;
// nil falls back to polling alone.
func (w *Worker) Run(ctx context.Context, wake <-chan struct{}) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		w.drainQueue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// drainQueue processes dispatchable jobs until the queue is empty.
func (w *Worker) drainQueue(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.queue.DispatchJob(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				w.logger.Warn("dispatch failed", zap.Error(err))
			}
			return
		}
		w.runJob(ctx, job)
	}
}

// runJob executes one job and records its terminal state.
func (w *Worker) runJob(ctx context.Context, job *store.GitHubJob) {
	logger := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("repo", job.RepoURL),
		zap.String("branch", job.Branch))
	logger.Info("job started", zap.Int("retry", job.RetryCount))

	indexedFiles, totalChunks, err := w.ingestRepo(ctx, job)
	switch {
	case err == nil:
		if cerr := w.queue.CompleteJob(ctx, job.ID, indexedFiles, totalChunks); cerr != nil {
			logger.Error("failed to record completion", zap.Error(cerr))
			return
		}
		logger.Info("job completed",
			zap.Int("indexed_files", indexedFiles),
			zap.Int("total_chunks", totalChunks))

	case errors.Is(err, errCancelled):
		logger.Info("job cancelled")

	case ctx.Err() != nil:
		// Shutdown mid-job: leave the row in_progress for operator triage,
		// nothing sane can be written with a dead context.
		logger.Warn("job interrupted by shutdown")

	default:
		status, ferr := w.queue.FailJob(ctx, job.ID, err.Error(), w.opts.BackoffBase)
		if ferr != nil {
			logger.Error("failed to record failure", zap.Error(ferr))
			return
		}
		logger.Warn("job failed", zap.Error(err), zap.String("status", string(status)))
	}
}

// ingestRepo clones the ref and reindexes it from scratch. The dataset's
// metadata is cleared first so every file lands as created.
func (w *Worker) ingestRepo(ctx context.Context, job *store.GitHubJob) (int, int, error) {
	workDir, err := os.MkdirTemp(w.opts.TempRoot, "ctxd-ingest-*")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	report := func(phase store.JobPhase, progress int, file string) {
		if err := w.queue.UpdateJobProgress(ctx, job.ID, store.JobProgressUpdate{
			Progress:     progress,
			CurrentPhase: phase,
			CurrentFile:  file,
		}); err != nil && ctx.Err() == nil {
			w.logger.Debug("progress update failed", zap.Error(err))
		}
	}

	report(store.PhaseClone, 0, "")
	if err := w.cloner.Clone(ctx, job.RepoURL, job.Branch, job.SHA, workDir); err != nil {
		return 0, 0, err
	}
	report(store.PhaseClone, clonePhaseEnd, "")
	if err := w.checkCancelled(ctx, job.ID); err != nil {
		return 0, 0, err
	}

	target, err := w.resolver.ResolveTarget(ctx, job.ProjectID, job.DatasetID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve sync target: %w", err)
	}

	res, err := w.sync.Sync(ctx, workDir, target, syncer.Options{
		Force: true,
		Progress: func(p syncer.Progress) {
			report(jobPhaseFor(p.Phase), cloneToFinalize(p.Percentage), p.File)
		},
	})
	if err != nil {
		return 0, 0, err
	}
	if err := w.checkCancelled(ctx, job.ID); err != nil {
		return 0, 0, err
	}

	if n := len(res.Errors); n > 0 {
		w.logger.Warn("some files failed during ingest",
			zap.String("job_id", job.ID.String()), zap.Int("failed", n))
	}

	report(store.PhaseFinalize, 100, "")
	indexed := len(res.Changes.Created) + len(res.Changes.Modified)
	return indexed, res.ChunksAdded, nil
}

func (w *Worker) checkCancelled(ctx context.Context, id uuid.UUID) error {
	cancelled, err := w.queue.JobCancelled(ctx, id)
	if err != nil {
		return err
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

// clonePhaseEnd is the job progress where cloning hands over to syncing.
const clonePhaseEnd = 10

// cloneToFinalize maps sync progress (0-100) into the post-clone band.
func cloneToFinalize(syncPct int) int {
	return clonePhaseEnd + syncPct*(100-clonePhaseEnd)/100
}

// jobPhaseFor translates sync phases into the job phase vocabulary.
func jobPhaseFor(syncPhase string) store.JobPhase {
	switch syncPhase {
	case syncer.PhaseScanning:
		return store.PhaseScan
	case syncer.PhaseDeleting, syncer.PhaseRenaming:
		return store.PhaseUpsert
	case syncer.PhaseUpdating, syncer.PhaseCreating:
		return store.PhaseEmbed
	case syncer.PhaseComplete:
		return store.PhaseFinalize
	default:
		return store.PhaseScan
	}
}

// RunCleanup deletes terminal jobs older than retention at the given
// interval, until ctx is cancelled.
func (w *Worker) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.queue.CleanupTerminalJobs(ctx, retention)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("job cleanup failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				w.logger.Info("cleaned up terminal jobs", zap.Int64("removed", removed))
			}
		}
	}
}
