package bus

import (
	"sync"
	"time"
)

// DefaultCoalesceWindow bounds high-frequency topics to roughly two events
// per second per key.
const DefaultCoalesceWindow = 500 * time.Millisecond

// Coalescer rate-limits publishes per (type, project, sessionId) key. The
// first event in a window goes out immediately; later events within the
// window are held, latest-wins, and flushed when the window elapses. Nothing
// is lost except superseded intermediate states.
type Coalescer struct {
	bus    *Bus
	window time.Duration

	mu      sync.Mutex
	lastAt  map[string]time.Time
	pending map[string]Event
	timers  map[string]*time.Timer
	closed  bool
}

// NewCoalescer wraps bus with a per-key rate limit.
func NewCoalescer(b *Bus, window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Coalescer{
		bus:     b,
		window:  window,
		lastAt:  make(map[string]time.Time),
		pending: make(map[string]Event),
		timers:  make(map[string]*time.Timer),
	}
}

// Publish forwards ev to the bus, coalescing bursts per key.
func (c *Coalescer) Publish(ev Event) {
	key := ev.Type + "|" + ev.Project + "|" + ev.SessionID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := now.Sub(c.lastAt[key])
	if elapsed >= c.window {
		c.lastAt[key] = now
		c.mu.Unlock()
		c.bus.Publish(ev)
		return
	}

	// Within the window: hold the latest event and arm a flush timer once.
	c.pending[key] = ev
	if _, armed := c.timers[key]; !armed {
		c.timers[key] = time.AfterFunc(c.window-elapsed, func() {
			c.flush(key)
		})
	}
	c.mu.Unlock()
}

// Error publishes a typed error event. Errors are rare and never coalesced.
func (c *Coalescer) Error(source, message string, details any) {
	c.bus.Error(source, message, details)
}

// Close flushes all held events and stops the timers.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	var held []Event
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
	for key, ev := range c.pending {
		held = append(held, ev)
		delete(c.pending, key)
	}
	c.mu.Unlock()

	for _, ev := range held {
		c.bus.Publish(ev)
	}
}

func (c *Coalescer) flush(key string) {
	c.mu.Lock()
	ev, ok := c.pending[key]
	delete(c.pending, key)
	delete(c.timers, key)
	if ok {
		c.lastAt[key] = time.Now()
	}
	c.mu.Unlock()

	if ok {
		c.bus.Publish(ev)
	}
}
