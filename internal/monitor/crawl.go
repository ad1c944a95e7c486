package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/bus"
	"github.com/ctxstack/ctxd/internal/crawler"
	"github.com/ctxstack/ctxd/internal/store"
)

// ProgressSource reads crawl progress from the crawler service.
// *crawler.Client satisfies it.
type ProgressSource interface {
	GetProgress(ctx context.Context, sessionID string) (*crawler.Progress, error)
}

// SessionPatcher syncs crawl session rows. *store.Store satisfies it.
type SessionPatcher interface {
	PatchCrawlSession(ctx context.Context, datasetID uuid.UUID, externalID string, patch store.CrawlSessionPatch) error
}

// trackedCrawl is one session the monitor follows until it goes terminal.
type trackedCrawl struct {
	sessionID string
	datasetID uuid.UUID
	project   string
	dataset   string
}

// CrawlMonitor polls tracked crawl sessions at roughly 1Hz, publishes
// crawl:progress events scoped to the owning project, and keeps the session
// rows in step with the crawler. Terminal sessions are published once more
// and then dropped.
type CrawlMonitor struct {
	source   ProgressSource
	sessions SessionPatcher
	sink     Publisher
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	tracked map[string]trackedCrawl
}

// NewCrawlMonitor creates a crawl monitor.
func NewCrawlMonitor(source ProgressSource, sessions SessionPatcher, sink Publisher, interval time.Duration, logger *zap.Logger) *CrawlMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &CrawlMonitor{
		source:   source,
		sessions: sessions,
		sink:     sink,
		interval: interval,
		logger:   logger.Named("monitor.crawl"),
		tracked:  make(map[string]trackedCrawl),
	}
}

// Track starts following a crawl session.
func (m *CrawlMonitor) Track(sessionID string, datasetID uuid.UUID, project, dataset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[sessionID] = trackedCrawl{
		sessionID: sessionID,
		datasetID: datasetID,
		project:   project,
		dataset:   dataset,
	}
}

// Tracked returns the session IDs currently being followed.
func (m *CrawlMonitor) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	return ids
}

// Run blocks until ctx is cancelled.
func (m *CrawlMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *CrawlMonitor) poll(ctx context.Context) {
	m.mu.Lock()
	batch := make([]trackedCrawl, 0, len(m.tracked))
	for _, t := range m.tracked {
		batch = append(batch, t)
	}
	m.mu.Unlock()

	for _, t := range batch {
		m.pollOne(ctx, t)
	}
}

func (m *CrawlMonitor) pollOne(ctx context.Context, t trackedCrawl) {
	progress, err := m.source.GetProgress(ctx, t.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("crawl progress poll failed",
				zap.String("session", t.sessionID), zap.Error(err))
		}
		return
	}

	m.sink.Publish(bus.Event{
		Type:      bus.TopicCrawlProgress,
		Project:   t.project,
		SessionID: t.sessionID,
		Data: map[string]any{
			"dataset":             t.dataset,
			"phase":               progress.Phase,
			"currentPhase":        progress.CurrentPhase,
			"percentage":          progress.Percentage,
			"current":             progress.Current,
			"total":               progress.Total,
			"status":              progress.Status,
			"phaseDetail":         progress.PhaseDetail,
			"chunksProcessed":     progress.ChunksProcessed,
			"chunksTotal":         progress.ChunksTotal,
			"summariesGenerated":  progress.SummariesGenerated,
			"embeddingsGenerated": progress.EmbeddingsGenerated,
		},
	})

	if err := m.sessions.PatchCrawlSession(ctx, t.datasetID, t.sessionID, store.CrawlSessionPatch{
		Status:       progress.Status,
		PagesCrawled: progress.Current,
		Metadata: map[string]any{
			"phase":    progress.Phase,
			"progress": progress.Percentage,
		},
	}); err != nil && ctx.Err() == nil {
		m.logger.Warn("session sync failed",
			zap.String("session", t.sessionID), zap.Error(err))
	}

	if progress.Terminal() {
		m.mu.Lock()
		delete(m.tracked, t.sessionID)
		m.mu.Unlock()
		m.logger.Info("crawl session finished",
			zap.String("session", t.sessionID),
			zap.String("status", progress.Status))
	}
}
