package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/chunk"
	"github.com/ctxstack/ctxd/internal/hash"
	"github.com/ctxstack/ctxd/internal/ignore"
	"github.com/ctxstack/ctxd/internal/store"
)

// MetadataStore is the file metadata surface change detection and sync need.
// *store.Store satisfies it.
type MetadataStore interface {
	GetAllFiles(ctx context.Context, projectID, datasetID uuid.UUID) (map[string]*store.IndexedFile, error)
	UpsertFile(ctx context.Context, f store.IndexedFile) error
	UpdateFilePath(ctx context.Context, projectID, datasetID uuid.UUID, oldPath, newPath string) error
	RemoveFile(ctx context.Context, projectID, datasetID uuid.UUID, relativePath string) error
	ClearDataset(ctx context.Context, projectID, datasetID uuid.UUID) error
}

// FileChange describes one changed file. OldHash and ChunkCount come from the
// stored row and are zero-valued for created files.
type FileChange struct {
	RelativePath string
	Hash         string
	OldHash      string
	Size         int64
	Language     string
	ChunkCount   int
}

// Rename pairs a deleted path with a created path carrying the same hash.
type Rename struct {
	OldPath string
	NewPath string
	Hash    string
}

// ChangeSet is the result of comparing a working tree to stored metadata.
type ChangeSet struct {
	Created   []FileChange
	Modified  []FileChange
	Deleted   []FileChange
	Renamed   []Rename
	Unchanged []string

	ScanDuration time.Duration
}

// HasChanges reports whether anything needs syncing.
func (cs *ChangeSet) HasChanges() bool {
	return len(cs.Created)+len(cs.Modified)+len(cs.Deleted)+len(cs.Renamed) > 0
}

// ChangeDetector diffs a working tree against stored file metadata. Detection
// is a pure read of disk and database state: it never writes anywhere.
type ChangeDetector struct {
	meta           MetadataStore
	hasher         *hash.Calculator
	maxConcurrency int
	logger         *zap.Logger
}

// NewChangeDetector creates a detector. maxConcurrency bounds parallel file
// hashing; zero means a sensible default.
func NewChangeDetector(meta MetadataStore, hasher *hash.Calculator, maxConcurrency int, logger *zap.Logger) *ChangeDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &ChangeDetector{
		meta:           meta,
		hasher:         hasher,
		maxConcurrency: maxConcurrency,
		logger:         logger.Named("detect"),
	}
}

// Detect walks root, hashes every admitted file and classifies each against
// the stored metadata for (projectID, datasetID). When detectRenames is set,
// created and deleted files sharing a hash are merged into Renamed pairs.
func (d *ChangeDetector) Detect(ctx context.Context, root string, projectID, datasetID uuid.UUID, detectRenames bool) (*ChangeSet, error) {
	start := time.Now()

	matcher, err := ignore.NewMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	relPaths, sizes, err := walkTree(root, matcher)
	if err != nil {
		return nil, err
	}

	absPaths := make([]string, len(relPaths))
	for i, rel := range relPaths {
		absPaths[i] = filepath.Join(root, filepath.FromSlash(rel))
	}

	hashes, err := d.hasher.HashAll(ctx, absPaths, d.maxConcurrency)
	if err != nil {
		return nil, err
	}

	stored, err := d.meta.GetAllFiles(ctx, projectID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored file metadata: %w", err)
	}

	// Copy so leftovers can be drained into the deleted list.
	remaining := make(map[string]*store.IndexedFile, len(stored))
	for p, f := range stored {
		remaining[p] = f
	}

	cs := &ChangeSet{}
	for i, rel := range relPaths {
		sum, ok := hashes[absPaths[i]]
		if !ok {
			// Unreadable file, already logged by the hasher.
			continue
		}

		row, exists := remaining[rel]
		if !exists {
			cs.Created = append(cs.Created, FileChange{
				RelativePath: rel,
				Hash:         sum,
				Size:         sizes[rel],
				Language:     chunk.DetectLanguage(rel),
			})
			continue
		}
		delete(remaining, rel)

		if row.SHA256Hash == sum {
			cs.Unchanged = append(cs.Unchanged, rel)
			continue
		}
		cs.Modified = append(cs.Modified, FileChange{
			RelativePath: rel,
			Hash:         sum,
			OldHash:      row.SHA256Hash,
			Size:         sizes[rel],
			Language:     chunk.DetectLanguage(rel),
			ChunkCount:   row.ChunkCount,
		})
	}

	for rel, row := range remaining {
		cs.Deleted = append(cs.Deleted, FileChange{
			RelativePath: rel,
			Hash:         row.SHA256Hash,
			OldHash:      row.SHA256Hash,
			Language:     row.Language,
			ChunkCount:   row.ChunkCount,
		})
	}
	sort.Slice(cs.Deleted, func(i, j int) bool {
		return cs.Deleted[i].RelativePath < cs.Deleted[j].RelativePath
	})

	if detectRenames {
		mergeRenames(cs)
	}

	cs.ScanDuration = time.Since(start)
	d.logger.Debug("change detection complete",
		zap.Int("created", len(cs.Created)),
		zap.Int("modified", len(cs.Modified)),
		zap.Int("deleted", len(cs.Deleted)),
		zap.Int("renamed", len(cs.Renamed)),
		zap.Int("unchanged", len(cs.Unchanged)),
		zap.Duration("duration", cs.ScanDuration))

	return cs, nil
}

// walkTree returns admitted repository-relative paths in sorted order plus
// their sizes. Ignored directory subtrees are pruned, not descended.
func walkTree(root string, matcher *ignore.Matcher) ([]string, map[string]int64, error) {
	var paths []string
	sizes := make(map[string]int64)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if matcher.SkipDir(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || !matcher.ShouldIndex(rel) {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		paths = append(paths, rel)
		sizes[rel] = info.Size()
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(paths)
	return paths, sizes, nil
}

// mergeRenames pairs created and deleted entries with identical hashes and
// moves them into Renamed. Each deleted file is consumed at most once.
func mergeRenames(cs *ChangeSet) {
	deletedByHash := make(map[string][]int)
	for i, f := range cs.Deleted {
		deletedByHash[f.Hash] = append(deletedByHash[f.Hash], i)
	}

	consumedDeleted := make(map[int]bool)
	var created []FileChange
	for _, f := range cs.Created {
		idxs := deletedByHash[f.Hash]
		if len(idxs) == 0 {
			created = append(created, f)
			continue
		}
		idx := idxs[0]
		deletedByHash[f.Hash] = idxs[1:]
		consumedDeleted[idx] = true
		cs.Renamed = append(cs.Renamed, Rename{
			OldPath: cs.Deleted[idx].RelativePath,
			NewPath: f.RelativePath,
			Hash:    f.Hash,
		})
	}

	var deleted []FileChange
	for i, f := range cs.Deleted {
		if !consumedDeleted[i] {
			deleted = append(deleted, f)
		}
	}
	cs.Created = created
	cs.Deleted = deleted
}
