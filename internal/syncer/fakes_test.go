package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ctxstack/ctxd/internal/chunk"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/vector"
)

// fakeMeta is an in-memory MetadataStore for one (project, dataset) pair.
type fakeMeta struct {
	mu    sync.Mutex
	files map[string]*store.IndexedFile
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{files: make(map[string]*store.IndexedFile)}
}

func (m *fakeMeta) GetAllFiles(_ context.Context, _, _ uuid.UUID) (map[string]*store.IndexedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*store.IndexedFile, len(m.files))
	for p, f := range m.files {
		cp := *f
		out[p] = &cp
	}
	return out, nil
}

func (m *fakeMeta) UpsertFile(_ context.Context, f store.IndexedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.RelativePath] = &f
	return nil
}

func (m *fakeMeta) UpdateFilePath(_ context.Context, _, _ uuid.UUID, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[oldPath]
	if !ok {
		return store.ErrNotFound
	}
	delete(m.files, oldPath)
	f.RelativePath = newPath
	m.files[newPath] = f
	return nil
}

func (m *fakeMeta) RemoveFile(_ context.Context, _, _ uuid.UUID, relativePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, relativePath)
	return nil
}

func (m *fakeMeta) ClearDataset(_ context.Context, _, _ uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string]*store.IndexedFile)
	return nil
}

// fakeVectors records every mutation in order so tests can assert on
// operation sequencing.
type fakeVectors struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]vector.Payload // point ID -> payload
	ops         []string
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{
		collections: make(map[string]bool),
		points:      make(map[string]vector.Payload),
	}
}

func (v *fakeVectors) SupportsHybrid() bool { return false }

func (v *fakeVectors) EnsureCollection(_ context.Context, name string, _ int, _ bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.collections[name] = true
	return nil
}

func (v *fakeVectors) DropCollection(_ context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.collections, name)
	return nil
}

func (v *fakeVectors) HasCollection(_ context.Context, name string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collections[name], nil
}

func (v *fakeVectors) ListCollections(context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var names []string
	for n := range v.collections {
		names = append(names, n)
	}
	return names, nil
}

func (v *fakeVectors) Upsert(_ context.Context, _ string, docs []vector.Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range docs {
		v.points[d.ID] = d.Payload
		v.ops = append(v.ops, "upsert "+d.Payload.RelativePath)
	}
	return nil
}

func (v *fakeVectors) DeleteByIDs(_ context.Context, _ string, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.points, id)
	}
	return nil
}

func (v *fakeVectors) DeleteByFilter(_ context.Context, _ string, filter vector.Filter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "delete "+filter.RelativePath)
	for id, p := range v.points {
		if matches(p, filter) {
			delete(v.points, id)
		}
	}
	return nil
}

func (v *fakeVectors) UpdatePayloadPath(_ context.Context, _ string, filter vector.Filter, newPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, fmt.Sprintf("patch %s -> %s", filter.RelativePath, newPath))
	for id, p := range v.points {
		if matches(p, filter) {
			p.RelativePath = newPath
			v.points[id] = p
		}
	}
	return nil
}

func (v *fakeVectors) Search(context.Context, string, []float32, vector.Filter, int) ([]vector.SearchResult, error) {
	return nil, nil
}

func (v *fakeVectors) HybridSearch(ctx context.Context, collection string, dense []float32, _ *vector.SparseVector, filter vector.Filter, limit int) ([]vector.SearchResult, error) {
	return v.Search(ctx, collection, dense, filter, limit)
}

func (v *fakeVectors) Count(_ context.Context, _ string, filter vector.Filter) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var n int64
	for _, p := range v.points {
		if matches(p, filter) {
			n++
		}
	}
	return n, nil
}

func (v *fakeVectors) Close() error { return nil }

func (v *fakeVectors) opLog() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.ops...)
}

func (v *fakeVectors) pathsByPoint() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]string, len(v.points))
	for id, p := range v.points {
		out[id] = p.RelativePath
	}
	return out
}

func matches(p vector.Payload, f vector.Filter) bool {
	if f.ProjectID != "" && p.ProjectID != f.ProjectID {
		return false
	}
	if len(f.DatasetIDs) > 0 {
		ok := false
		for _, id := range f.DatasetIDs {
			if p.DatasetID == id {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.RelativePath != "" && p.RelativePath != f.RelativePath {
		return false
	}
	return true
}

// fakeEmbedder returns fixed-dimension vectors and can be poisoned to fail
// on texts containing a marker.
type fakeEmbedder struct {
	failOn string
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, int, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vecs[0], len(vecs[0]), nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failOn != "" && strings.Contains(t, e.failOn) {
			return nil, fmt.Errorf("embedder rejected text")
		}
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension(context.Context) (int, error) { return 4, nil }

// fakeChunker emits a single chunk covering the whole file.
type fakeChunker struct{}

func (fakeChunker) ChunkFile(relativePath, content string) ([]chunk.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []chunk.Chunk{{
		Text:      content,
		StartLine: 1,
		EndLine:   strings.Count(content, "\n") + 1,
		Index:     0,
		Language:  chunk.DetectLanguage(relativePath),
	}}, nil
}
