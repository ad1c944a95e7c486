package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxstack/ctxd/internal/hash"
	"github.com/ctxstack/ctxd/internal/store"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func storedFile(projectID, datasetID uuid.UUID, rel, content string) store.IndexedFile {
	return store.IndexedFile{
		ProjectID:    projectID,
		DatasetID:    datasetID,
		RelativePath: rel,
		SHA256Hash:   hash.HashString(content),
		ChunkCount:   1,
	}
}

func TestChangeDetector_ClassifiesCreatedDeletedUnchanged(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.py", "print('a')\n")
	writeFile(t, root, "b.py", "print('b')\n")

	projectID, datasetID := uuid.New(), uuid.New()
	meta := newFakeMeta()
	require.NoError(t, meta.UpsertFile(context.Background(), storedFile(projectID, datasetID, "a.py", "print('a')\n")))
	require.NoError(t, meta.UpsertFile(context.Background(), storedFile(projectID, datasetID, "c.py", "print('c')\n")))

	d := NewChangeDetector(meta, hash.NewCalculator(nil), 4, nil)
	cs, err := d.Detect(context.Background(), root, projectID, datasetID, false)
	require.NoError(t, err)

	require.Len(t, cs.Created, 1)
	assert.Equal(t, "b.py", cs.Created[0].RelativePath)
	assert.Equal(t, "python", cs.Created[0].Language)

	require.Len(t, cs.Deleted, 1)
	assert.Equal(t, "c.py", cs.Deleted[0].RelativePath)

	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Renamed)
	assert.Equal(t, []string{"a.py"}, cs.Unchanged)
	assert.Positive(t, cs.ScanDuration)
}

func TestChangeDetector_Modified(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a // v2\n")

	projectID, datasetID := uuid.New(), uuid.New()
	meta := newFakeMeta()
	require.NoError(t, meta.UpsertFile(context.Background(), storedFile(projectID, datasetID, "a.go", "package a // v1\n")))

	d := NewChangeDetector(meta, hash.NewCalculator(nil), 4, nil)
	cs, err := d.Detect(context.Background(), root, projectID, datasetID, false)
	require.NoError(t, err)

	require.Len(t, cs.Modified, 1)
	assert.Equal(t, "a.go", cs.Modified[0].RelativePath)
	assert.Equal(t, hash.HashString("package a // v1\n"), cs.Modified[0].OldHash)
	assert.Equal(t, hash.HashString("package a // v2\n"), cs.Modified[0].Hash)
	assert.NotEqual(t, cs.Modified[0].OldHash, cs.Modified[0].Hash)
}

func TestChangeDetector_RenameMerge(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "x/new.py", "def f(): pass\n")

	projectID, datasetID := uuid.New(), uuid.New()
	meta := newFakeMeta()
	require.NoError(t, meta.UpsertFile(context.Background(), storedFile(projectID, datasetID, "x/old.py", "def f(): pass\n")))

	d := NewChangeDetector(meta, hash.NewCalculator(nil), 4, nil)
	cs, err := d.Detect(context.Background(), root, projectID, datasetID, true)
	require.NoError(t, err)

	assert.Empty(t, cs.Created)
	assert.Empty(t, cs.Deleted)
	require.Len(t, cs.Renamed, 1)
	assert.Equal(t, "x/old.py", cs.Renamed[0].OldPath)
	assert.Equal(t, "x/new.py", cs.Renamed[0].NewPath)
}

func TestChangeDetector_RenameOffByDefault(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "x/new.py", "def f(): pass\n")

	projectID, datasetID := uuid.New(), uuid.New()
	meta := newFakeMeta()
	require.NoError(t, meta.UpsertFile(context.Background(), storedFile(projectID, datasetID, "x/old.py", "def f(): pass\n")))

	d := NewChangeDetector(meta, hash.NewCalculator(nil), 4, nil)
	cs, err := d.Detect(context.Background(), root, projectID, datasetID, false)
	require.NoError(t, err)

	require.Len(t, cs.Created, 1)
	require.Len(t, cs.Deleted, 1)
	assert.Empty(t, cs.Renamed)
}

func TestChangeDetector_PrunesIgnoredTrees(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = {}\n")
	writeFile(t, root, "image.png", "not source")
	writeFile(t, root, ".gitignore", "generated/\n")
	writeFile(t, root, "generated/out.go", "package gen\n")

	projectID, datasetID := uuid.New(), uuid.New()
	d := NewChangeDetector(newFakeMeta(), hash.NewCalculator(nil), 4, nil)
	cs, err := d.Detect(context.Background(), root, projectID, datasetID, false)
	require.NoError(t, err)

	var created []string
	for _, f := range cs.Created {
		created = append(created, f.RelativePath)
	}
	assert.Equal(t, []string{"main.go"}, created)
}

func TestMergeRenames_PairsEachDeletedOnce(t *testing.T) {
	t.Parallel()

	cs := &ChangeSet{
		Created: []FileChange{
			{RelativePath: "new1.py", Hash: "h1"},
			{RelativePath: "new2.py", Hash: "h1"},
		},
		Deleted: []FileChange{
			{RelativePath: "old1.py", Hash: "h1"},
		},
	}
	mergeRenames(cs)

	require.Len(t, cs.Renamed, 1)
	assert.Equal(t, "old1.py", cs.Renamed[0].OldPath)
	assert.Equal(t, "new1.py", cs.Renamed[0].NewPath)
	require.Len(t, cs.Created, 1)
	assert.Equal(t, "new2.py", cs.Created[0].RelativePath)
	assert.Empty(t, cs.Deleted)
}
