package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/store"
)

// ConfigStore is the persistence surface for watch registrations.
// *store.Store satisfies it.
type ConfigStore interface {
	UpsertWatchConfig(ctx context.Context, w store.WatchConfig) error
	ListWatchConfigs(ctx context.Context) ([]store.WatchConfig, error)
	SetWatchEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	DeleteWatchConfig(ctx context.Context, id uuid.UUID) error
}

// Status describes one registered watch.
type Status struct {
	Config     store.WatchConfig
	State      State
	LastSyncAt time.Time
	LastError  string
}

// RegistryOptions tune registry behaviour.
type RegistryOptions struct {
	// WriteStability is the per-file quiescence threshold.
	WriteStability time.Duration

	// HealthInterval is how often non-running enabled watchers are
	// restarted. Zero disables the recovery loop.
	HealthInterval time.Duration

	// ShutdownGrace bounds the wait for in-flight syncs on Close.
	ShutdownGrace time.Duration

	// EmitRawEvents forwards raw filesystem events to the bus.
	EmitRawEvents bool
}

// Registry owns all file watchers: persistence, lifecycle, recovery.
type Registry struct {
	configs ConfigStore
	sidecar *Sidecar
	runner  SyncRunner
	events  Publisher
	logger  *zap.Logger
	opts    RegistryOptions

	mu       sync.Mutex
	watchers map[uuid.UUID]*watcher
	ctx      context.Context
	cancel   context.CancelFunc
	healthWG sync.WaitGroup
}

// NewRegistry creates a watch registry.
func NewRegistry(configs ConfigStore, sidecar *Sidecar, runner SyncRunner, events Publisher, opts RegistryOptions, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteStability <= 0 {
		opts.WriteStability = 500 * time.Millisecond
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	return &Registry{
		configs:  configs,
		sidecar:  sidecar,
		runner:   runner,
		events:   events,
		logger:   logger.Named("watchreg"),
		opts:     opts,
		watchers: make(map[uuid.UUID]*watcher),
	}
}

// Start loads persisted configs and starts every enabled auto-start watcher.
// When the database has no configs but the sidecar does, the sidecar set is
// restored into the database first.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	configs, err := r.configs.ListWatchConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watch configs: %w", err)
	}
	if len(configs) == 0 && r.sidecar != nil {
		backup, err := r.sidecar.Load()
		if err != nil {
			r.logger.Warn("failed to read watch sidecar", zap.Error(err))
		}
		for _, cfg := range backup {
			if err := r.configs.UpsertWatchConfig(ctx, cfg); err != nil {
				return fmt.Errorf("failed to restore watch config: %w", err)
			}
		}
		configs = backup
	}

	for _, cfg := range configs {
		if cfg.Enabled && cfg.AutoStart {
			if err := r.startWatcher(cfg); err != nil {
				r.logger.Warn("failed to start watcher",
					zap.String("path", cfg.Path), zap.Error(err))
			}
		}
	}

	if r.opts.HealthInterval > 0 {
		r.healthWG.Add(1)
		go r.healthLoop()
	}
	return nil
}

// Add registers a watch and starts it when enabled.
func (r *Registry) Add(ctx context.Context, cfg store.WatchConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = store.WatchConfigID(cfg.ProjectID, cfg.DatasetID, cfg.Path)
	}
	if err := r.configs.UpsertWatchConfig(ctx, cfg); err != nil {
		return err
	}
	r.saveSidecar(ctx)

	if cfg.Enabled {
		return r.startWatcher(cfg)
	}
	return nil
}

// Remove stops and deletes a watch.
func (r *Registry) Remove(ctx context.Context, id uuid.UUID) error {
	r.stopWatcher(id)
	if err := r.configs.DeleteWatchConfig(ctx, id); err != nil {
		return err
	}
	r.saveSidecar(ctx)
	return nil
}

// Enable flips a watch on or off, starting or stopping it accordingly.
func (r *Registry) Enable(ctx context.Context, id uuid.UUID, enabled bool) error {
	if err := r.configs.SetWatchEnabled(ctx, id, enabled); err != nil {
		return err
	}
	r.saveSidecar(ctx)

	if !enabled {
		r.stopWatcher(id)
		return nil
	}

	configs, err := r.configs.ListWatchConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if cfg.ID == id {
			return r.startWatcher(cfg)
		}
	}
	return store.ErrNotFound
}

// Statuses reports the state of every active watcher.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.watchers))
	for _, w := range r.watchers {
		w.mu.Lock()
		out = append(out, Status{
			Config:     w.cfg,
			State:      w.state,
			LastSyncAt: w.lastSyncAt,
			LastError:  w.lastError,
		})
		w.mu.Unlock()
	}
	return out
}

// Close stops every watcher, bounding the wait for in-flight syncs.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.healthWG.Wait()

	r.mu.Lock()
	watchers := make([]*watcher, 0, len(r.watchers))
	for id, w := range r.watchers {
		watchers = append(watchers, w)
		delete(r.watchers, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w *watcher) {
			defer wg.Done()
			w.stop(r.opts.ShutdownGrace)
		}(w)
	}
	wg.Wait()
}

// healthLoop restarts enabled watchers that fell out of running.
func (r *Registry) healthLoop() {
	defer r.healthWG.Done()

	ticker := time.NewTicker(r.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.recover()
		}
	}
}

func (r *Registry) recover() {
	configs, err := r.configs.ListWatchConfigs(r.ctx)
	if err != nil {
		r.logger.Warn("health check failed to list configs", zap.Error(err))
		return
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		r.mu.Lock()
		w, ok := r.watchers[cfg.ID]
		r.mu.Unlock()

		if ok && w.currentState() == StateRunning {
			continue
		}
		r.logger.Info("restarting watcher", zap.String("path", cfg.Path))
		r.stopWatcher(cfg.ID)
		if err := r.startWatcher(cfg); err != nil {
			r.logger.Warn("watcher restart failed",
				zap.String("path", cfg.Path), zap.Error(err))
		}
	}
}

func (r *Registry) startWatcher(cfg store.WatchConfig) error {
	r.mu.Lock()
	if _, exists := r.watchers[cfg.ID]; exists {
		r.mu.Unlock()
		return nil
	}
	w := newWatcher(cfg, r.runner, r.events, r.opts.WriteStability, r.opts.EmitRawEvents, r.logger)
	r.watchers[cfg.ID] = w
	r.mu.Unlock()

	parent := r.ctx
	if parent == nil {
		parent = context.Background()
	}
	if err := w.start(parent); err != nil {
		r.mu.Lock()
		delete(r.watchers, cfg.ID)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Registry) stopWatcher(id uuid.UUID) {
	r.mu.Lock()
	w, ok := r.watchers[id]
	delete(r.watchers, id)
	r.mu.Unlock()
	if ok {
		w.stop(r.opts.ShutdownGrace)
	}
}

func (r *Registry) saveSidecar(ctx context.Context) {
	if r.sidecar == nil {
		return
	}
	configs, err := r.configs.ListWatchConfigs(ctx)
	if err != nil {
		r.logger.Warn("failed to snapshot watch configs", zap.Error(err))
		return
	}
	if err := r.sidecar.Save(configs); err != nil {
		r.logger.Warn("failed to write watch sidecar", zap.Error(err))
	}
}
