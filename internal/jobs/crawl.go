package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/chunk"
	"github.com/ctxstack/ctxd/internal/crawler"
	"github.com/ctxstack/ctxd/internal/embed"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/syncer"
	"github.com/ctxstack/ctxd/internal/vector"
)

// CrawlStore is the persistence surface for crawl ingestion.
// *store.Store satisfies it.
type CrawlStore interface {
	CreateCrawlSession(ctx context.Context, datasetID uuid.UUID, externalID string, metadata map[string]any) (*store.CrawlSession, error)
	PatchCrawlSession(ctx context.Context, datasetID uuid.UUID, externalID string, patch store.CrawlSessionPatch) error
	UpsertWebPage(ctx context.Context, page store.WebPage) (uuid.UUID, error)
	UpsertWebChunks(ctx context.Context, chunks []store.WebChunk) (int, error)
}

// CrawlService is the crawler client surface. *crawler.Client satisfies it.
type CrawlService interface {
	StartCrawl(ctx context.Context, req crawler.CrawlRequest) (*crawler.CrawlStarted, error)
	GetProgress(ctx context.Context, sessionID string) (*crawler.Progress, error)
	GetPages(ctx context.Context, sessionID string, offset int) ([]crawler.Page, error)
}

// CrawlSummary is the outcome of one crawl ingestion.
type CrawlSummary struct {
	SessionID   string
	Status      string
	PagesStored int
	ChunksAdded int
	Duration    time.Duration
}

// CrawlIngestor drives one crawl session end to end: start the crawl, poll
// progress, and stream arriving pages through the chunk, embed and upsert
// pipeline into both PostgreSQL and the dataset's vector collection.
type CrawlIngestor struct {
	crawls   CrawlStore
	service  CrawlService
	vectors  vector.Store
	embedder embed.Embedder
	chunker  chunk.Chunker
	poll     time.Duration
	logger   *zap.Logger
}

// NewCrawlIngestor creates a crawl ingestor. poll bounds the progress and
// page polling rate.
func NewCrawlIngestor(crawls CrawlStore, service CrawlService, vectors vector.Store, embedder embed.Embedder, chunker chunk.Chunker, poll time.Duration, logger *zap.Logger) *CrawlIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &CrawlIngestor{
		crawls:   crawls,
		service:  service,
		vectors:  vectors,
		embedder: embedder,
		chunker:  chunker,
		poll:     poll,
		logger:   logger.Named("crawl"),
	}
}

// Run ingests one crawl into target. It returns once the crawler reports a
// terminal status or ctx is cancelled. started, when non-nil, is invoked with
// the session ID as soon as the crawler accepts the request, before any page
// lands, so callers can register progress tracking.
func (ci *CrawlIngestor) Run(ctx context.Context, req crawler.CrawlRequest, target syncer.Target, started func(sessionID string)) (*CrawlSummary, error) {
	start := time.Now()

	dim, err := ci.embedder.Dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedder unavailable: %w", err)
	}
	if err := ci.vectors.EnsureCollection(ctx, target.Collection, dim, false); err != nil {
		return nil, fmt.Errorf("vector store unavailable: %w", err)
	}

	accepted, err := ci.service.StartCrawl(ctx, req)
	if err != nil {
		return nil, err
	}
	if started != nil {
		started(accepted.SessionID)
	}
	if _, err := ci.crawls.CreateCrawlSession(ctx, target.DatasetID, accepted.SessionID, map[string]any{
		"start_url": req.StartURL,
		"phase":     "initializing",
	}); err != nil {
		return nil, fmt.Errorf("failed to record crawl session: %w", err)
	}

	summary := &CrawlSummary{SessionID: accepted.SessionID}
	ticker := time.NewTicker(ci.poll)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-ticker.C:
		}

		progress, err := ci.service.GetProgress(ctx, accepted.SessionID)
		if err != nil {
			ci.logger.Warn("progress poll failed",
				zap.String("session", accepted.SessionID), zap.Error(err))
			continue
		}

		pages, err := ci.service.GetPages(ctx, accepted.SessionID, offset)
		if err != nil {
			ci.logger.Warn("page fetch failed",
				zap.String("session", accepted.SessionID), zap.Error(err))
		}
		for _, page := range pages {
			added, perr := ci.ingestPage(ctx, target, page)
			if perr != nil {
				ci.logger.Warn("page ingest failed",
					zap.String("url", page.URL), zap.Error(perr))
				continue
			}
			summary.PagesStored++
			summary.ChunksAdded += added
		}
		offset += len(pages)

		if err := ci.crawls.PatchCrawlSession(ctx, target.DatasetID, accepted.SessionID, store.CrawlSessionPatch{
			Status:       progress.Status,
			PagesCrawled: progress.Current,
			Metadata: map[string]any{
				"phase":        progress.Phase,
				"progress":     progress.Percentage,
				"phase_detail": progress.PhaseDetail,
			},
		}); err != nil {
			ci.logger.Warn("session patch failed", zap.Error(err))
		}

		if progress.Terminal() {
			summary.Status = progress.Status
			summary.Duration = time.Since(start)
			ci.logger.Info("crawl finished",
				zap.String("session", accepted.SessionID),
				zap.String("status", progress.Status),
				zap.Int("pages", summary.PagesStored),
				zap.Int("chunks", summary.ChunksAdded))
			return summary, nil
		}
	}
}

// ingestPage persists one page and pushes its chunks into the vector store.
func (ci *CrawlIngestor) ingestPage(ctx context.Context, target syncer.Target, page crawler.Page) (int, error) {
	if strings.TrimSpace(page.Content) == "" {
		return 0, nil
	}

	pageID, err := ci.crawls.UpsertWebPage(ctx, store.WebPage{
		DatasetID: target.DatasetID,
		URL:       page.URL,
		Title:     page.Title,
		Content:   page.Content,
		Metadata:  page.Metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist page: %w", err)
	}

	chunks, err := ci.chunker.ChunkFile(page.URL, page.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk page: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ci.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed page chunks: %w", err)
	}

	docs := make([]vector.Document, len(chunks))
	rows := make([]store.WebChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = store.WebChunk{
			DatasetID:  target.DatasetID,
			WebPageID:  pageID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Embedding:  vecs[i],
			Metadata:   map[string]any{"url": page.URL, "title": page.Title},
		}
		docs[i] = vector.Document{
			ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", pageID, c.Index))).String(),
			Vector: vecs[i],
			Payload: vector.Payload{
				Content:      c.Text,
				RelativePath: page.URL,
				StartLine:    c.StartLine,
				EndLine:      c.EndLine,
				ProjectID:    target.ProjectID.String(),
				DatasetID:    target.DatasetID.String(),
				SourceType:   "web",
				Metadata:     map[string]any{"url": page.URL, "title": page.Title},
			},
		}
	}

	if err := ci.vectors.Upsert(ctx, target.Collection, docs); err != nil {
		return 0, fmt.Errorf("failed to upsert page chunks: %w", err)
	}
	if _, err := ci.crawls.UpsertWebChunks(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to record page chunks: %w", err)
	}
	return len(docs), nil
}
