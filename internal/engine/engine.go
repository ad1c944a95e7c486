package engine

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/bus"
	"github.com/ctxstack/ctxd/internal/chunk"
	"github.com/ctxstack/ctxd/internal/config"
	"github.com/ctxstack/ctxd/internal/crawler"
	"github.com/ctxstack/ctxd/internal/embed"
	"github.com/ctxstack/ctxd/internal/hash"
	"github.com/ctxstack/ctxd/internal/jobs"
	"github.com/ctxstack/ctxd/internal/monitor"
	"github.com/ctxstack/ctxd/internal/query"
	"github.com/ctxstack/ctxd/internal/scope"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/syncer"
	"github.com/ctxstack/ctxd/internal/vector"
	"github.com/ctxstack/ctxd/internal/watch"
)

// Engine owns every long-lived component of the daemon and wires them
// together: the relational store, the vector store, the embedding clients,
// the sync pipeline, the watch registry, the job worker, the monitors, and
// the subscription bus. Construction order follows the dependency chain;
// Close releases in reverse.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	Store   *store.Store
	Vectors vector.Store
	Scopes  *scope.Manager
	Syncer  *syncer.Syncer
	Planner *query.Planner
	Bus     *bus.Bus
	Events  *bus.Coalescer
	Watches *watch.Registry
	Crawler *crawler.Client

	embedder *embed.Client
	sparse   embed.SparseEncoder
	chunker  chunk.Chunker
	resolver *targetResolver
	worker   *jobs.Worker
	ingestor *jobs.CrawlIngestor

	metadataMon *monitor.MetadataMonitor
	crawlMon    *monitor.CrawlMonitor
	vectorMon   *monitor.VectorStatsMonitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the engine and verifies connectivity to PostgreSQL. The
// vector store, embedder and crawler are probed lazily on first use so the
// daemon can start while an upstream is still coming up.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := store.New(ctx, cfg.Postgres.URL, store.Options{
		MaxConns: int32(cfg.Postgres.PoolMax),
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Bootstrap(ctx); err != nil {
		st.Close()
		return nil, err
	}

	vectors, err := openVectorStore(st, cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	embedder := embed.NewClient(cfg.Embedding.URL, cfg.Embedding.Timeout, logger)
	var sparse embed.SparseEncoder
	if cfg.Embedding.SparseURL != "" {
		sparse = embed.NewSparseClient(cfg.Embedding.SparseURL, cfg.Embedding.Timeout, logger)
	}

	chunker, err := chunk.NewTokenChunker(cfg.Chunking.MaxTokens, cfg.Chunking.Overlap)
	if err != nil {
		vectors.Close()
		st.Close()
		return nil, err
	}

	scopes, err := scope.NewManager(st, logger)
	if err != nil {
		vectors.Close()
		st.Close()
		return nil, err
	}

	hasher := hash.NewCalculator(logger)
	detector := syncer.NewChangeDetector(st, hasher, 0, logger)
	sync := syncer.New(st, vectors, embedder, sparse, chunker, detector, logger)

	planner := query.NewPlanner(st, vectors, embedder, sparse, nil, query.PlannerOptions{
		TopK:         cfg.Query.TopK,
		Oversample:   cfg.Query.Oversample,
		EnableHybrid: cfg.VectorStore.EnableHybrid,
	}, logger)

	eventBus := bus.New(logger)
	events := bus.NewCoalescer(eventBus, bus.DefaultCoalesceWindow)

	crawlerClient := crawler.NewClient(cfg.Crawler.URL, cfg.Crawler.Timeout, logger)

	resolver := &targetResolver{
		catalog:      st,
		enableHybrid: cfg.VectorStore.EnableHybrid && vectors.SupportsHybrid(),
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		Store:    st,
		Vectors:  vectors,
		Scopes:   scopes,
		Syncer:   sync,
		Planner:  planner,
		Bus:      eventBus,
		Events:   events,
		Crawler:  crawlerClient,
		embedder: embedder,
		sparse:   sparse,
		chunker:  chunker,
		resolver: resolver,
	}

	e.Watches = watch.NewRegistry(st, watch.NewSidecar(cfg.Watcher.SidecarPath), e, events, watch.RegistryOptions{
		WriteStability: cfg.Watcher.WriteStability(),
		HealthInterval: cfg.Watcher.RecoveryInterval(),
	}, logger)

	e.worker = jobs.NewWorker(st, resolver, sync, nil, jobs.WorkerOptions{
		PollInterval: cfg.Jobs.PollInterval,
		BackoffBase:  cfg.Jobs.RetryBackoffBase,
		TempRoot:     cfg.Jobs.TempRoot,
	}, logger)
	e.ingestor = jobs.NewCrawlIngestor(st, crawlerClient, vectors, embedder, chunker,
		cfg.Monitors.CrawlPollingInterval, logger)

	e.metadataMon = monitor.NewMetadataMonitor(st,
		store.NewListener(st, []string{"stats_updates", "github_job_updates"}, logger),
		events, monitor.MetadataMonitorOptions{
			PollInterval: cfg.Monitors.PostgresPollingInterval,
		}, logger)
	e.crawlMon = monitor.NewCrawlMonitor(crawlerClient, st, events,
		cfg.Monitors.CrawlPollingInterval, logger)
	e.vectorMon = monitor.NewVectorStatsMonitor(vectors, events,
		cfg.Monitors.VectorStorePollingInterval, logger)

	return e, nil
}

// openVectorStore picks the Qdrant client or the pgvector fallback.
func openVectorStore(st *store.Store, cfg *config.Config, logger *zap.Logger) (vector.Store, error) {
	if cfg.VectorStore.URL == "" {
		logger.Info("no vector store url, using pgvector fallback")
		return vector.NewPGStore(st.Pool(), logger), nil
	}

	host, portStr, err := net.SplitHostPort(cfg.VectorStore.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid vector store url %q: %w", cfg.VectorStore.URL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid vector store port %q: %w", portStr, err)
	}
	return vector.NewQdrantStore(host, port, false, cfg.VectorStore.EnableHybrid, logger)
}

// Run starts the background loops and blocks until ctx is cancelled. The
// watch registry restores persisted watchers; the worker, cleanup loop and
// monitors each run under the engine's wait group.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.Watches.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watch registry: %w", err)
	}

	// NOTIFY traffic on the jobs table doubles as the worker wake-up, so a
	// freshly enqueued job is picked up without waiting out a poll interval.
	wake := make(chan struct{}, 1)
	jobListener := store.NewListener(e.Store, []string{"github_job_updates"}, e.logger)
	e.spawn(func() {
		_ = jobListener.Run(ctx, func(store.Notification) {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
	})

	e.spawn(func() { e.worker.Run(ctx, wake) })
	e.spawn(func() { e.worker.RunCleanup(ctx, e.cfg.Jobs.CleanupInterval, e.cfg.Jobs.Retention) })
	e.spawn(func() { _ = e.metadataMon.Run(ctx) })
	e.spawn(func() { _ = e.crawlMon.Run(ctx) })
	e.spawn(func() { _ = e.vectorMon.Run(ctx) })

	e.Bus.Publish(bus.Event{Type: bus.TopicConnected, Project: bus.ProjectAll,
		Data: map[string]any{"startedAt": time.Now().UTC()}})
	e.logger.Info("engine running")

	<-ctx.Done()
	return ctx.Err()
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Close stops background loops and releases connections.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.Watches.Close()
	e.Events.Close()
	e.Bus.Close()
	if err := e.Vectors.Close(); err != nil {
		e.logger.Warn("vector store close failed", zap.Error(err))
	}
	e.Store.Close()
	e.logger.Info("engine stopped")
}
