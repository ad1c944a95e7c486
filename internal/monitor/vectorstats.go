package monitor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/bus"
	"github.com/ctxstack/ctxd/internal/vector"
)

// CollectionStats is one collection's point count.
type CollectionStats struct {
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

// VectorStatsMonitor samples collection point counts and publishes a
// qdrant:stats event only when the totals actually change, so an idle
// deployment stays quiet on the bus.
type VectorStatsMonitor struct {
	vectors  vector.Store
	sink     Publisher
	interval time.Duration
	logger   *zap.Logger

	last []CollectionStats
}

// NewVectorStatsMonitor creates a vector stats monitor.
func NewVectorStatsMonitor(vectors vector.Store, sink Publisher, interval time.Duration, logger *zap.Logger) *VectorStatsMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &VectorStatsMonitor{
		vectors:  vectors,
		sink:     sink,
		interval: interval,
		logger:   logger.Named("monitor.vector"),
	}
}

// Run blocks until ctx is cancelled.
func (m *VectorStatsMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First sample publishes unconditionally so subscribers get a baseline.
	m.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *VectorStatsMonitor) sample(ctx context.Context) {
	stats, err := m.collect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("vector stats collection failed", zap.Error(err))
			m.sink.Error("vector-monitor", "vector stats collection failed",
				map[string]any{"error": err.Error()})
		}
		return
	}

	if statsEqual(stats, m.last) && m.last != nil {
		return
	}
	m.last = stats

	var total int64
	for _, s := range stats {
		total += s.Points
	}
	m.sink.Publish(bus.Event{
		Type:    bus.TopicVectorStats,
		Project: bus.ProjectAll,
		Data: map[string]any{
			"collections": stats,
			"totalPoints": total,
		},
	})
}

func (m *VectorStatsMonitor) collect(ctx context.Context) ([]CollectionStats, error) {
	names, err := m.vectors.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	stats := make([]CollectionStats, 0, len(names))
	for _, name := range names {
		count, err := m.vectors.Count(ctx, name, vector.Filter{})
		if err != nil {
			return nil, err
		}
		stats = append(stats, CollectionStats{Name: name, Points: count})
	}
	return stats, nil
}

func statsEqual(a, b []CollectionStats) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
