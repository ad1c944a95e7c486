package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event topics.
const (
	TopicPostgresStats = "postgres:stats"
	TopicCrawlProgress = "crawl:progress"
	TopicVectorStats   = "qdrant:stats"
	TopicError         = "error"
	TopicWatchSync     = "watch:sync"
	TopicWatchError    = "watch:error"
	TopicWatchEvent    = "watch:event"
	TopicConnected     = "connected"
)

// ProjectAll marks an event addressed to every subscriber regardless of
// their project filter.
const ProjectAll = "all"

// Event is the outbound envelope. Transport is the caller's concern.
type Event struct {
	Type      string    `json:"type"`
	Project   string    `json:"project,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events rather than blocking producers.
const subscriberBuffer = 64

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id      int
	project string
	topics  map[string]bool
	ch      chan Event
	bus     *Bus
	once    sync.Once
}

// Events returns the subscriber's delivery channel. It is closed when the
// subscription or the bus closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// wants reports whether ev passes this subscriber's project and topic
// filters. Project matching first: the event's project must be the
// subscriber's, empty (unscoped), or the 'all' broadcast. Then, if the
// subscriber named topics, the event type must be among them.
func (s *Subscription) wants(ev Event) bool {
	if ev.Project != "" && ev.Project != ProjectAll && ev.Project != s.project {
		return false
	}
	if len(s.topics) > 0 && !s.topics[ev.Type] {
		return false
	}
	return true
}

// Bus is an in-process pub/sub hub with project and topic filtering.
// Delivery is non-blocking: a slow subscriber drops events instead of
// stalling producers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
	logger *zap.Logger
}

// New creates a bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[int]*Subscription),
		logger: logger.Named("bus"),
	}
}

// Subscribe registers a subscriber scoped to project, optionally narrowed to
// topics. An empty topics slice receives every type.
func (b *Bus) Subscribe(project string, topics []string) *Subscription {
	topicSet := make(map[string]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:      b.nextID,
		project: project,
		topics:  topicSet,
		ch:      make(chan Event, subscriberBuffer),
		bus:     b,
	}
	b.nextID++

	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every matching subscriber. A zero timestamp is
// stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				zap.String("type", ev.Type),
				zap.String("project", sub.project))
		}
	}
}

// Error publishes a typed error event.
func (b *Bus) Error(source, message string, details any) {
	b.Publish(Event{
		Type: TopicError,
		Data: map[string]any{
			"source":  source,
			"message": message,
			"details": details,
		},
	})
}

// Close detaches all subscribers and closes their channels. Publish becomes
// a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		s.once.Do(func() { close(s.ch) })
	}
}
