package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxstack/ctxd/internal/chunk"
	"github.com/ctxstack/ctxd/internal/crawler"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/syncer"
	"github.com/ctxstack/ctxd/internal/vector"
)

type fakeCrawlStore struct {
	mu       sync.Mutex
	sessions map[string]*store.CrawlSession
	patches  []store.CrawlSessionPatch
	pages    []store.WebPage
	chunks   []store.WebChunk
}

func newFakeCrawlStore() *fakeCrawlStore {
	return &fakeCrawlStore{sessions: make(map[string]*store.CrawlSession)}
}

func (f *fakeCrawlStore) CreateCrawlSession(_ context.Context, datasetID uuid.UUID, externalID string, metadata map[string]any) (*store.CrawlSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := &store.CrawlSession{
		ID:         uuid.New(),
		DatasetID:  datasetID,
		ExternalID: externalID,
		Status:     "running",
		Metadata:   metadata,
	}
	f.sessions[externalID] = cs
	return cs, nil
}

func (f *fakeCrawlStore) PatchCrawlSession(_ context.Context, _ uuid.UUID, externalID string, patch store.CrawlSessionPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	if cs, ok := f.sessions[externalID]; ok && patch.Status != "" {
		cs.Status = patch.Status
	}
	return nil
}

func (f *fakeCrawlStore) UpsertWebPage(_ context.Context, page store.WebPage) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page)
	return store.WebPageID(page.DatasetID, page.URL), nil
}

func (f *fakeCrawlStore) UpsertWebChunks(_ context.Context, chunks []store.WebChunk) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return len(chunks), nil
}

// fakeCrawlService serves a scripted progress sequence and one batch of
// pages.
type fakeCrawlService struct {
	mu      sync.Mutex
	ticks   []crawler.Progress
	pages   []crawler.Page
	tick    int
	started int
}

func (f *fakeCrawlService) StartCrawl(context.Context, crawler.CrawlRequest) (*crawler.CrawlStarted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return &crawler.CrawlStarted{SessionID: "sess-1", Status: "running"}, nil
}

func (f *fakeCrawlService) GetProgress(context.Context, string) (*crawler.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.ticks[f.tick]
	if f.tick < len(f.ticks)-1 {
		f.tick++
	}
	return &p, nil
}

func (f *fakeCrawlService) GetPages(_ context.Context, _ string, offset int) ([]crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.pages) {
		return nil, nil
	}
	return f.pages[offset:], nil
}

type captureVectors struct {
	mu          sync.Mutex
	collections map[string]bool
	docs        []vector.Document
}

func newCaptureVectors() *captureVectors {
	return &captureVectors{collections: make(map[string]bool)}
}

func (v *captureVectors) SupportsHybrid() bool { return false }

func (v *captureVectors) EnsureCollection(_ context.Context, name string, _ int, _ bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.collections[name] = true
	return nil
}

func (v *captureVectors) DropCollection(context.Context, string) error { return nil }
func (v *captureVectors) HasCollection(context.Context, string) (bool, error) { return true, nil }
func (v *captureVectors) ListCollections(context.Context) ([]string, error)   { return nil, nil }

func (v *captureVectors) Upsert(_ context.Context, _ string, docs []vector.Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.docs = append(v.docs, docs...)
	return nil
}

func (v *captureVectors) DeleteByIDs(context.Context, string, []string) error { return nil }
func (v *captureVectors) DeleteByFilter(context.Context, string, vector.Filter) error {
	return nil
}
func (v *captureVectors) UpdatePayloadPath(context.Context, string, vector.Filter, string) error {
	return nil
}
func (v *captureVectors) Search(context.Context, string, []float32, vector.Filter, int) ([]vector.SearchResult, error) {
	return nil, nil
}
func (v *captureVectors) HybridSearch(context.Context, string, []float32, *vector.SparseVector, vector.Filter, int) ([]vector.SearchResult, error) {
	return nil, nil
}
func (v *captureVectors) Count(context.Context, string, vector.Filter) (int64, error) {
	return 0, nil
}
func (v *captureVectors) Close() error { return nil }

type lineEmbedder struct{}

func (lineEmbedder) Embed(context.Context, string) ([]float32, int, error) {
	return []float32{1, 0}, 2, nil
}

func (lineEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (lineEmbedder) Dimension(context.Context) (int, error) { return 2, nil }

type wholeChunker struct{}

func (wholeChunker) ChunkFile(_, content string) ([]chunk.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []chunk.Chunk{{Text: content, StartLine: 1, EndLine: 1}}, nil
}

func TestCrawlIngestor_IngestsPagesUntilTerminal(t *testing.T) {
	t.Parallel()

	crawls := newFakeCrawlStore()
	service := &fakeCrawlService{
		ticks: []crawler.Progress{
			{Status: "running", Phase: "crawling", Percentage: 40, Current: 1},
			{Status: "completed", Phase: "completed", Percentage: 100, Current: 3},
		},
		pages: []crawler.Page{
			{URL: "https://docs.example.com/a", Title: "A", Content: "alpha content"},
			{URL: "https://docs.example.com/b", Title: "B", Content: "beta content"},
			{URL: "https://docs.example.com/empty", Title: "E", Content: "   "},
		},
	}
	vectors := newCaptureVectors()

	ci := NewCrawlIngestor(crawls, service, vectors, lineEmbedder{}, wholeChunker{}, 10*time.Millisecond, nil)
	target := syncer.Target{
		ProjectID:  uuid.New(),
		DatasetID:  uuid.New(),
		Collection: "ds_docs_l",
	}

	var startedWith string
	summary, err := ci.Run(context.Background(), crawler.CrawlRequest{
		StartURL: "https://docs.example.com",
		Project:  "demo",
		Dataset:  "docs",
	}, target, func(sessionID string) { startedWith = sessionID })
	require.NoError(t, err)

	assert.Equal(t, "sess-1", startedWith, "start hook fires with the session id")
	assert.Equal(t, "sess-1", summary.SessionID)
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, 2, summary.PagesStored, "blank pages are skipped")
	assert.Equal(t, 2, summary.ChunksAdded)

	// Pages and chunks landed in both stores.
	assert.Len(t, crawls.pages, 2)
	assert.Len(t, crawls.chunks, 2)
	require.Len(t, vectors.docs, 2)
	for _, doc := range vectors.docs {
		assert.Equal(t, "web", doc.Payload.SourceType)
		assert.Equal(t, target.DatasetID.String(), doc.Payload.DatasetID)
	}

	// The session row followed the crawl to its terminal status.
	assert.Equal(t, "completed", crawls.sessions["sess-1"].Status)
	require.NotEmpty(t, crawls.patches)
	last := crawls.patches[len(crawls.patches)-1]
	assert.Equal(t, "completed", last.Status)
}

func TestCrawlIngestor_ContextCancellation(t *testing.T) {
	t.Parallel()

	service := &fakeCrawlService{
		ticks: []crawler.Progress{{Status: "running", Phase: "crawling"}},
	}
	ci := NewCrawlIngestor(newFakeCrawlStore(), service, newCaptureVectors(),
		lineEmbedder{}, wholeChunker{}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := ci.Run(ctx, crawler.CrawlRequest{StartURL: "https://x"}, syncer.Target{
		ProjectID: uuid.New(), DatasetID: uuid.New(), Collection: "c",
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
