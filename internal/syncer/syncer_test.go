package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxstack/ctxd/internal/hash"
	"github.com/ctxstack/ctxd/internal/vector"
)

func newTestSyncer(t *testing.T, embedder *fakeEmbedder) (*Syncer, *fakeMeta, *fakeVectors) {
	t.Helper()
	meta := newFakeMeta()
	vectors := newFakeVectors()
	detector := NewChangeDetector(meta, hash.NewCalculator(nil), 4, nil)
	s := New(meta, vectors, embedder, nil, fakeChunker{}, detector, nil)
	return s, meta, vectors
}

func testTarget() Target {
	return Target{
		ProjectID:  uuid.New(),
		DatasetID:  uuid.New(),
		Collection: "ds_test_l",
	}
}

func TestSyncer_SecondRunIsNoop(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, root, fmt.Sprintf("pkg/file%02d.go", i), fmt.Sprintf("package pkg // %d\n", i))
	}

	s, _, vectors := newTestSyncer(t, &fakeEmbedder{})
	target := testTarget()

	res, err := s.Sync(context.Background(), root, target, Options{DetectRenames: true})
	require.NoError(t, err)
	assert.Len(t, res.Changes.Created, 10)
	assert.Equal(t, 10, res.ChunksAdded)
	assert.Empty(t, res.Errors)

	writesAfterFirst := len(vectors.opLog())

	res, err = s.Sync(context.Background(), root, target, Options{DetectRenames: true})
	require.NoError(t, err)
	assert.Empty(t, res.Changes.Created)
	assert.Empty(t, res.Changes.Modified)
	assert.Empty(t, res.Changes.Deleted)
	assert.Empty(t, res.Changes.Renamed)
	assert.Len(t, res.Changes.Unchanged, 10)
	assert.Zero(t, res.ChunksAdded)
	assert.Zero(t, res.ChunksRemoved)

	// No vector writes happened on the second run.
	assert.Len(t, vectors.opLog(), writesAfterFirst)
}

func TestSyncer_RenameDoesNotReembed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "x/old.py", "def f(): pass\n")

	s, meta, vectors := newTestSyncer(t, &fakeEmbedder{})
	target := testTarget()

	_, err := s.Sync(context.Background(), root, target, Options{DetectRenames: true})
	require.NoError(t, err)

	pointsBefore, err := vectors.Count(context.Background(), target.Collection, datasetFilterFor(target))
	require.NoError(t, err)

	require.NoError(t, os.Rename(
		filepath.Join(root, "x", "old.py"),
		filepath.Join(root, "x", "new.py")))

	writesBefore := countUpserts(vectors.opLog())
	res, err := s.Sync(context.Background(), root, target, Options{DetectRenames: true})
	require.NoError(t, err)

	require.Len(t, res.Changes.Renamed, 1)
	assert.Empty(t, res.Errors)
	assert.Zero(t, res.ChunksAdded)
	assert.Zero(t, res.ChunksRemoved)
	assert.Equal(t, writesBefore, countUpserts(vectors.opLog()))

	// Point count is unchanged and payload paths moved to the new path.
	pointsAfter, err := vectors.Count(context.Background(), target.Collection, datasetFilterFor(target))
	require.NoError(t, err)
	assert.Equal(t, pointsBefore, pointsAfter)
	for _, path := range vectors.pathsByPoint() {
		assert.Equal(t, "x/new.py", path)
	}

	// Metadata row follows the rename.
	files, err := meta.GetAllFiles(context.Background(), target.ProjectID, target.DatasetID)
	require.NoError(t, err)
	require.Contains(t, files, "x/new.py")
	assert.NotContains(t, files, "x/old.py")
}

func TestSyncer_ModifyDeletesBeforeInsert(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a // v1\n")

	s, _, vectors := newTestSyncer(t, &fakeEmbedder{})
	target := testTarget()

	_, err := s.Sync(context.Background(), root, target, Options{})
	require.NoError(t, err)

	writeFile(t, root, "a.go", "package a // v2\n")
	res, err := s.Sync(context.Background(), root, target, Options{})
	require.NoError(t, err)
	require.Len(t, res.Changes.Modified, 1)
	assert.Equal(t, 1, res.ChunksAdded)
	assert.Equal(t, 1, res.ChunksRemoved)

	// The delete for a.go precedes its re-insert in the op log.
	ops := vectors.opLog()
	deleteIdx, upsertIdx := -1, -1
	for i, op := range ops[1:] { // skip the initial index upsert
		if op == "delete a.go" && deleteIdx < 0 {
			deleteIdx = i
		}
		if op == "upsert a.go" && deleteIdx >= 0 && upsertIdx < 0 {
			upsertIdx = i
		}
	}
	require.GreaterOrEqual(t, deleteIdx, 0)
	require.Greater(t, upsertIdx, deleteIdx)
}

func TestSyncer_DeleteRemovesPointsAndMetadata(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")

	s, meta, vectors := newTestSyncer(t, &fakeEmbedder{})
	target := testTarget()

	_, err := s.Sync(context.Background(), root, target, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))
	res, err := s.Sync(context.Background(), root, target, Options{})
	require.NoError(t, err)
	require.Len(t, res.Changes.Deleted, 1)
	assert.Equal(t, 1, res.ChunksRemoved)

	n, err := vectors.Count(context.Background(), target.Collection, datasetFilterFor(target))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	files, err := meta.GetAllFiles(context.Background(), target.ProjectID, target.DatasetID)
	require.NoError(t, err)
	assert.NotContains(t, files, "b.go")
}

func TestSyncer_PerFileFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "good.go", "package good\n")
	writeFile(t, root, "bad.go", "package bad // POISON\n")

	s, meta, _ := newTestSyncer(t, &fakeEmbedder{failOn: "POISON"})
	target := testTarget()

	res, err := s.Sync(context.Background(), root, target, Options{})
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad.go", res.Errors[0].Path)
	assert.Equal(t, 1, res.ChunksAdded)

	// The failed file has no metadata row, so the next run retries it.
	files, err := meta.GetAllFiles(context.Background(), target.ProjectID, target.DatasetID)
	require.NoError(t, err)
	assert.Contains(t, files, "good.go")
	assert.NotContains(t, files, "bad.go")
}

func TestSyncer_ForceReindexesEverything(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")

	s, _, vectors := newTestSyncer(t, &fakeEmbedder{})
	target := testTarget()

	_, err := s.Sync(context.Background(), root, target, Options{})
	require.NoError(t, err)

	res, err := s.Sync(context.Background(), root, target, Options{Force: true})
	require.NoError(t, err)
	assert.Len(t, res.Changes.Created, 2)
	assert.Equal(t, 2, res.ChunksAdded)

	// Old points were cleared before reindexing, so counts stay stable.
	n, err := vectors.Count(context.Background(), target.Collection, datasetFilterFor(target))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSyncer_EmitsOrderedMonotonicProgress(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	s, _, _ := newTestSyncer(t, &fakeEmbedder{})
	target := testTarget()

	var phases []string
	var percentages []int
	_, err := s.Sync(context.Background(), root, target, Options{
		Progress: func(p Progress) {
			phases = append(phases, p.Phase)
			percentages = append(percentages, p.Percentage)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, PhaseScanning, phases[0])
	assert.Equal(t, PhaseComplete, phases[len(phases)-1])
	for i := 1; i < len(percentages); i++ {
		assert.GreaterOrEqual(t, percentages[i], percentages[i-1])
	}
	assert.Equal(t, 100, percentages[len(percentages)-1])
}

func datasetFilterFor(target Target) vector.Filter {
	return vector.Filter{
		ProjectID:  target.ProjectID.String(),
		DatasetIDs: []string{target.DatasetID.String()},
	}
}

func countUpserts(ops []string) int {
	n := 0
	for _, op := range ops {
		if strings.HasPrefix(op, "upsert ") {
			n++
		}
	}
	return n
}
