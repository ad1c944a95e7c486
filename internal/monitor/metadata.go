package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/bus"
	"github.com/ctxstack/ctxd/internal/store"
)

// Publisher is the event sink monitors publish into. *bus.Bus satisfies it.
type Publisher interface {
	Publish(e bus.Event)
	Error(source, message string, details any)
}

// StatsSource produces aggregate metadata snapshots. *store.Store satisfies
// it.
type StatsSource interface {
	Snapshot(ctx context.Context) (*store.StatsSnapshot, error)
}

// NotificationSource streams NOTIFY messages. *store.Listener satisfies it.
type NotificationSource interface {
	Run(ctx context.Context, handle func(store.Notification)) error
}

// MetadataMonitorOptions tune the metadata monitor.
type MetadataMonitorOptions struct {
	// Debounce batches bursts of change notifications into one snapshot.
	Debounce time.Duration

	// PollInterval is the safety net refresh when notifications are lost,
	// for example across a listener reconnect.
	PollInterval time.Duration
}

// MetadataMonitor turns relational change notifications into postgres:stats
// events. Writes anywhere in the schema fire a NOTIFY; the monitor debounces
// those into one aggregate snapshot and publishes it per project plus one
// event for the whole deployment. A slow periodic poll backstops dropped
// notifications.
type MetadataMonitor struct {
	stats    StatsSource
	listener NotificationSource
	sink     Publisher
	opts     MetadataMonitorOptions
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewMetadataMonitor creates a metadata monitor. listener may be nil, leaving
// only the periodic poll.
func NewMetadataMonitor(stats StatsSource, listener NotificationSource, sink Publisher, opts MetadataMonitorOptions, logger *zap.Logger) *MetadataMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &MetadataMonitor{
		stats:    stats,
		listener: listener,
		sink:     sink,
		opts:     opts,
		logger:   logger.Named("monitor.metadata"),
	}
}

// Run blocks until ctx is cancelled.
func (m *MetadataMonitor) Run(ctx context.Context) error {
	if m.listener != nil {
		go func() {
			if err := m.listener.Run(ctx, func(n store.Notification) {
				m.logger.Debug("change notification",
					zap.String("channel", n.Channel), zap.String("payload", n.Payload))
				m.markDirty(ctx)
			}); err != nil && ctx.Err() == nil {
				m.logger.Warn("notification listener stopped", zap.Error(err))
			}
		}()
	}

	// Initial snapshot so subscribers see state before the first write.
	m.emit(ctx)

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.stopTimer()
			return ctx.Err()
		case <-ticker.C:
			m.emit(ctx)
		}
	}
}

// markDirty schedules one snapshot after the debounce window. Bursts of
// notifications collapse into a single emit.
func (m *MetadataMonitor) markDirty(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.opts.Debounce, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		if ctx.Err() == nil {
			m.emit(ctx)
		}
	})
}

func (m *MetadataMonitor) stopTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// emit publishes the current aggregate: one event per project scoped to that
// project, and one deployment-wide event visible to unscoped subscribers.
func (m *MetadataMonitor) emit(ctx context.Context) {
	snapshot, err := m.stats.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("stats snapshot failed", zap.Error(err))
			m.sink.Error("metadata-monitor", "stats snapshot failed",
				map[string]any{"error": err.Error()})
		}
		return
	}

	for _, p := range snapshot.Projects {
		m.sink.Publish(bus.Event{
			Type:    bus.TopicPostgresStats,
			Project: p.Name,
			Data:    map[string]any{"project": p},
		})
	}
	m.sink.Publish(bus.Event{
		Type:    bus.TopicPostgresStats,
		Project: bus.ProjectAll,
		Data:    map[string]any{"snapshot": snapshot},
	})
}
