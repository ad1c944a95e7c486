package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/chunk"
	"github.com/ctxstack/ctxd/internal/embed"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/vector"
)

// Target identifies where a sync writes: the owning project and dataset plus
// the dataset's vector collection.
type Target struct {
	ProjectID  uuid.UUID
	DatasetID  uuid.UUID
	Collection string
	Hybrid     bool
}

// Options control one sync run.
type Options struct {
	// Force clears all stored file metadata and dataset points first, so
	// every file on disk is reindexed as created.
	Force bool

	// DetectRenames merges created/deleted pairs with identical hashes into
	// renames, which patch paths instead of re-embedding.
	DetectRenames bool

	// Progress receives phase progress emissions. May be nil.
	Progress ProgressFunc
}

// FileError records a per-file failure. A failed file keeps its previous
// metadata so the next run retries it.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Result summarizes a completed sync.
type Result struct {
	Changes       *ChangeSet
	ChunksAdded   int
	ChunksRemoved int
	Errors        []FileError
	Duration      time.Duration
}

// Syncer applies incremental change sets to the vector store and file
// metadata. Deletions always land before insertions for the same path, and
// metadata rows are only written after the vector write succeeded.
type Syncer struct {
	meta     MetadataStore
	vectors  vector.Store
	embedder embed.Embedder
	sparse   embed.SparseEncoder
	chunker  chunk.Chunker
	detector *ChangeDetector
	logger   *zap.Logger
}

// New creates a syncer. sparse may be nil when hybrid encoding is not
// configured.
func New(meta MetadataStore, vectors vector.Store, embedder embed.Embedder, sparse embed.SparseEncoder, chunker chunk.Chunker, detector *ChangeDetector, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		meta:     meta,
		vectors:  vectors,
		embedder: embedder,
		sparse:   sparse,
		chunker:  chunker,
		detector: detector,
		logger:   logger.Named("sync"),
	}
}

// Sync brings the target dataset in line with the working tree at
// codebasePath. Per-file failures are collected in the result; only failures
// that make the whole run meaningless (unreachable vector store, unreadable
// tree) abort it.
func (s *Syncer) Sync(ctx context.Context, codebasePath string, target Target, opts Options) (*Result, error) {
	start := time.Now()
	mapper := NewProgressMapper(SyncPhaseRanges)

	report := func(phase string, current, total int, file, detail string) {
		if opts.Progress == nil {
			return
		}
		pct := 100
		if total > 0 {
			pct = current * 100 / total
		}
		opts.Progress(Progress{
			Phase:      phase,
			Current:    current,
			Total:      total,
			Percentage: mapper.Map(phase, pct),
			File:       file,
			Detail:     detail,
		})
	}

	dim, err := s.embedder.Dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedder unavailable: %w", err)
	}

	hybrid := target.Hybrid && s.vectors.SupportsHybrid() && s.sparse != nil
	if err := s.vectors.EnsureCollection(ctx, target.Collection, dim, hybrid); err != nil {
		return nil, fmt.Errorf("vector store unavailable: %w", err)
	}

	datasetFilter := vector.Filter{
		ProjectID:  target.ProjectID.String(),
		DatasetIDs: []string{target.DatasetID.String()},
	}

	if opts.Force {
		if err := s.vectors.DeleteByFilter(ctx, target.Collection, datasetFilter); err != nil {
			return nil, fmt.Errorf("failed to clear dataset points: %w", err)
		}
		if err := s.meta.ClearDataset(ctx, target.ProjectID, target.DatasetID); err != nil {
			return nil, fmt.Errorf("failed to clear dataset metadata: %w", err)
		}
	}

	report(PhaseScanning, 0, 1, "", "scanning working tree")
	changes, err := s.detector.Detect(ctx, codebasePath, target.ProjectID, target.DatasetID, opts.DetectRenames)
	if err != nil {
		return nil, err
	}
	report(PhaseScanning, 1, 1, "", "scan complete")

	res := &Result{Changes: changes}

	// Deletions first so no stale chunks survive a path's removal.
	for i, f := range changes.Deleted {
		report(PhaseDeleting, i, len(changes.Deleted), f.RelativePath, "")
		if err := s.removeFile(ctx, target, datasetFilter, f.RelativePath); err != nil {
			res.Errors = append(res.Errors, FileError{Path: f.RelativePath, Err: err})
			continue
		}
		res.ChunksRemoved += f.ChunkCount
	}
	report(PhaseDeleting, len(changes.Deleted), len(changes.Deleted), "", "")

	// Modifications delete the old chunks before inserting new ones.
	for i, f := range changes.Modified {
		report(PhaseUpdating, i, len(changes.Modified), f.RelativePath, "")
		filter := datasetFilter
		filter.RelativePath = f.RelativePath
		if err := s.vectors.DeleteByFilter(ctx, target.Collection, filter); err != nil {
			res.Errors = append(res.Errors, FileError{Path: f.RelativePath, Err: err})
			continue
		}
		res.ChunksRemoved += f.ChunkCount

		added, err := s.indexFile(ctx, codebasePath, target, f, hybrid)
		if err != nil {
			res.Errors = append(res.Errors, FileError{Path: f.RelativePath, Err: err})
			continue
		}
		res.ChunksAdded += added
	}
	report(PhaseUpdating, len(changes.Modified), len(changes.Modified), "", "")

	// Renames move paths without touching vectors' content.
	for i, r := range changes.Renamed {
		report(PhaseRenaming, i, len(changes.Renamed), r.NewPath, "")
		filter := datasetFilter
		filter.RelativePath = r.OldPath
		if err := s.vectors.UpdatePayloadPath(ctx, target.Collection, filter, r.NewPath); err != nil {
			res.Errors = append(res.Errors, FileError{Path: r.NewPath, Err: err})
			continue
		}
		if err := s.meta.UpdateFilePath(ctx, target.ProjectID, target.DatasetID, r.OldPath, r.NewPath); err != nil {
			res.Errors = append(res.Errors, FileError{Path: r.NewPath, Err: err})
		}
	}
	report(PhaseRenaming, len(changes.Renamed), len(changes.Renamed), "", "")

	for i, f := range changes.Created {
		report(PhaseCreating, i, len(changes.Created), f.RelativePath, "")
		added, err := s.indexFile(ctx, codebasePath, target, f, hybrid)
		if err != nil {
			res.Errors = append(res.Errors, FileError{Path: f.RelativePath, Err: err})
			continue
		}
		res.ChunksAdded += added
	}
	report(PhaseCreating, len(changes.Created), len(changes.Created), "", "")

	res.Duration = time.Since(start)
	report(PhaseComplete, 1, 1, "", "sync complete")

	s.logger.Info("sync complete",
		zap.String("collection", target.Collection),
		zap.Int("created", len(changes.Created)),
		zap.Int("modified", len(changes.Modified)),
		zap.Int("deleted", len(changes.Deleted)),
		zap.Int("renamed", len(changes.Renamed)),
		zap.Int("chunks_added", res.ChunksAdded),
		zap.Int("chunks_removed", res.ChunksRemoved),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration))

	return res, nil
}

// removeFile deletes a path's points, then its metadata row.
func (s *Syncer) removeFile(ctx context.Context, target Target, datasetFilter vector.Filter, relPath string) error {
	filter := datasetFilter
	filter.RelativePath = relPath
	if err := s.vectors.DeleteByFilter(ctx, target.Collection, filter); err != nil {
		return err
	}
	return s.meta.RemoveFile(ctx, target.ProjectID, target.DatasetID, relPath)
}

// indexFile reads, chunks, embeds and upserts one file, then records its
// metadata. The metadata write happens last so a vector failure leaves the
// previous row in place for the next run.
func (s *Syncer) indexFile(ctx context.Context, root string, target Target, f FileChange, hybrid bool) (int, error) {
	absPath := filepath.Join(root, filepath.FromSlash(f.RelativePath))
	data, err := os.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	chunks, err := s.chunker.ChunkFile(f.RelativePath, string(data))
	if err != nil {
		return 0, fmt.Errorf("failed to chunk file: %w", err)
	}

	var docs []vector.Document
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}

		ext := strings.ToLower(filepath.Ext(f.RelativePath))
		for i, c := range chunks {
			doc := vector.Document{
				ID:     chunkPointID(target.DatasetID, f.RelativePath, c.Index, f.Hash),
				Vector: vecs[i],
				Payload: vector.Payload{
					Content:       c.Text,
					RelativePath:  f.RelativePath,
					StartLine:     c.StartLine,
					EndLine:       c.EndLine,
					FileExtension: ext,
					ProjectID:     target.ProjectID.String(),
					DatasetID:     target.DatasetID.String(),
					SourceType:    "code",
					Lang:          c.Language,
					Symbol:        c.Symbol,
				},
			}
			if hybrid {
				sparse, err := s.sparse.EncodeSparse(ctx, c.Text)
				if err != nil {
					return 0, fmt.Errorf("failed to encode sparse vector: %w", err)
				}
				doc.Sparse = sparse
			}
			docs = append(docs, doc)
		}

		if err := s.vectors.Upsert(ctx, target.Collection, docs); err != nil {
			return 0, fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}

	err = s.meta.UpsertFile(ctx, store.IndexedFile{
		ProjectID:      target.ProjectID,
		DatasetID:      target.DatasetID,
		RelativePath:   f.RelativePath,
		SHA256Hash:     f.Hash,
		FileSize:       f.Size,
		ChunkCount:     len(docs),
		Language:       f.Language,
		CollectionName: target.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record file metadata: %w", err)
	}
	return len(docs), nil
}

// chunkPointID derives a stable point ID from the chunk's identity, so a
// reindex of identical content produces identical IDs.
func chunkPointID(datasetID uuid.UUID, relPath string, index int, fileHash string) string {
	name := fmt.Sprintf("%s:%s:%d:%s", datasetID, relPath, index, fileHash)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
