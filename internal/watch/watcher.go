package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/bus"
	"github.com/ctxstack/ctxd/internal/ignore"
	"github.com/ctxstack/ctxd/internal/store"
	"github.com/ctxstack/ctxd/internal/syncer"
)

// State is a watcher lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
)

// SyncRunner executes one incremental sync for a watched path. The registry
// owner wires this to the syncer with the right target resolution.
type SyncRunner interface {
	RunSync(ctx context.Context, cfg store.WatchConfig) (*syncer.Result, error)
}

// Publisher is the event sink. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ev bus.Event)
}

// watcher runs one recursive filesystem watch with two-stage debouncing:
// per-file write stability first, then a global debounce across the pending
// set. At most one sync runs at a time; events during a sync carry over to
// the next debounce cycle.
type watcher struct {
	cfg       store.WatchConfig
	matcher   *ignore.Matcher
	runner    SyncRunner
	events    Publisher
	logger    *zap.Logger
	debounce  time.Duration
	stability time.Duration
	emitRaw   bool

	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	mu             sync.Mutex
	state          State
	pending        map[string]bool
	syncing        bool
	dirty          bool
	syncDone       chan struct{}
	debounceTimer  *time.Timer
	stabilityTimer map[string]*time.Timer
	lastError      string
	lastSyncAt     time.Time
}

func newWatcher(cfg store.WatchConfig, runner SyncRunner, events Publisher, stability time.Duration, emitRaw bool, logger *zap.Logger) *watcher {
	debounce := time.Duration(cfg.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if stability <= 0 {
		stability = 500 * time.Millisecond
	}
	return &watcher{
		cfg:            cfg,
		runner:         runner,
		events:         events,
		logger:         logger.Named("watch").With(zap.String("path", cfg.Path)),
		debounce:       debounce,
		stability:      stability,
		emitRaw:        emitRaw,
		state:          StateStopped,
		pending:        make(map[string]bool),
		stabilityTimer: make(map[string]*time.Timer),
	}
}

func (w *watcher) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// start registers the recursive watch and launches the event loop.
func (w *watcher) start(parent context.Context) error {
	w.setState(StateStarting)

	matcher, err := ignore.NewMatcher(w.cfg.Path)
	if err != nil {
		w.setState(StateStopped)
		return err
	}
	w.matcher = matcher

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.setState(StateStopped)
		return err
	}
	w.fsw = fsw

	if err := w.addTree(w.cfg.Path); err != nil {
		fsw.Close()
		w.setState(StateStopped)
		return err
	}

	w.ctx, w.cancel = context.WithCancel(parent)
	w.doneCh = make(chan struct{})
	w.setState(StateRunning)

	go w.loop()
	return nil
}

// stop shuts the watcher down, waiting up to grace for an in-flight sync.
func (w *watcher) stop(grace time.Duration) {
	w.mu.Lock()
	if w.state == StateStopped && w.cancel == nil {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.doneCh
	syncDone := w.syncDone
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	for path, t := range w.stabilityTimer {
		t.Stop()
		delete(w.stabilityTimer, path)
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if syncDone != nil {
		select {
		case <-syncDone:
		case <-time.After(grace):
			w.logger.Warn("gave up waiting for in-flight sync", zap.Duration("grace", grace))
		}
	}
	w.setState(StateStopped)
}

func (w *watcher) loop() {
	defer close(w.doneCh)
	defer w.fsw.Close()

	fire := make(chan struct{}, 1)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, fire)

		case <-fire:
			w.launchSync()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.setState(StateDegraded)
			w.publishError("watcher error", err)
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event, fire chan struct{}) {
	// New directories join the watch before their contents settle.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			rel := w.relPath(event.Name)
			if !w.matcher.SkipDir(rel) {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory",
						zap.String("dir", event.Name), zap.Error(err))
				}
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel := w.relPath(event.Name)
	if !w.matcher.ShouldIndex(rel) {
		return
	}

	if w.emitRaw {
		w.events.Publish(bus.Event{
			Type:    bus.TopicWatchEvent,
			Project: w.eventProject(),
			Data:    map[string]any{"op": event.Op.String(), "path": rel},
		})
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// Nothing to stabilize for a disappearing path.
		w.markPending(rel, fire)
		return
	}

	// Writes wait for quiescence: the per-file timer restarts on every
	// event, so a file only enters the pending set once it stops changing.
	w.mu.Lock()
	if t, ok := w.stabilityTimer[rel]; ok {
		t.Stop()
	}
	w.stabilityTimer[rel] = time.AfterFunc(w.stability, func() {
		w.mu.Lock()
		delete(w.stabilityTimer, rel)
		w.mu.Unlock()
		w.markPending(rel, fire)
	})
	w.mu.Unlock()
}

// markPending records a settled change and restarts the debounce timer.
func (w *watcher) markPending(rel string, fire chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[rel] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
}

// launchSync starts one sync for the whole watched path. If a sync is
// already running, the cycle is deferred until it finishes.
func (w *watcher) launchSync() {
	w.mu.Lock()
	if len(w.pending) == 0 && !w.dirty {
		w.mu.Unlock()
		return
	}
	if w.syncing {
		w.dirty = true
		w.mu.Unlock()
		return
	}
	w.pending = make(map[string]bool)
	w.syncing = true
	w.dirty = false
	done := make(chan struct{})
	w.syncDone = done
	w.mu.Unlock()

	go func() {
		defer close(done)

		res, err := w.runner.RunSync(w.ctx, w.cfg)

		w.mu.Lock()
		w.syncing = false
		w.lastSyncAt = time.Now()
		redo := w.dirty
		if err != nil {
			w.lastError = err.Error()
		} else {
			w.lastError = ""
		}
		w.mu.Unlock()

		if err != nil {
			if w.ctx.Err() == nil {
				w.publishError("sync failed", err)
			}
			return
		}

		w.events.Publish(bus.Event{
			Type:    bus.TopicWatchSync,
			Project: w.eventProject(),
			Data: map[string]any{
				"path":          w.cfg.Path,
				"dataset":       w.cfg.DatasetID.String(),
				"created":       len(res.Changes.Created),
				"modified":      len(res.Changes.Modified),
				"deleted":       len(res.Changes.Deleted),
				"renamed":       len(res.Changes.Renamed),
				"chunksAdded":   res.ChunksAdded,
				"chunksRemoved": res.ChunksRemoved,
				"errors":        len(res.Errors),
				"durationMs":    res.Duration.Milliseconds(),
			},
		})

		// Changes that arrived mid-sync start a fresh debounce cycle.
		if redo && w.ctx.Err() == nil {
			w.markPendingCycle()
		}
	}()
}

// markPendingCycle re-arms the debounce timer after a deferred cycle.
func (w *watcher) markPendingCycle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		w.launchSync()
	})
}

// eventProject keys bus events by project name, matching the monitors, so a
// project-scoped subscriber receives watch events too. Configs restored from
// an old sidecar may lack the name; the ID is the only fallback left.
func (w *watcher) eventProject() string {
	if w.cfg.ProjectName != "" {
		return w.cfg.ProjectName
	}
	return w.cfg.ProjectID.String()
}

func (w *watcher) publishError(message string, err error) {
	w.events.Publish(bus.Event{
		Type:    bus.TopicWatchError,
		Project: w.eventProject(),
		Data: map[string]any{
			"path":    w.cfg.Path,
			"message": message,
			"error":   err.Error(),
		},
	})
}

func (w *watcher) relPath(abs string) string {
	rel, err := filepath.Rel(w.cfg.Path, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// addTree registers root and every non-ignored directory below it.
func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if w.matcher.SkipDir(w.relPath(path)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}
