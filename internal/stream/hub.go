// Package stream fans session events out to live websocket subscribers.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/scam-honeypot/internal/engine"
)

// AllSessions subscribes to events of every session.
const AllSessions = "*"

const defaultBuffer = 64

// Subscription receives events for one session id (or AllSessions).
type Subscription struct {
	key    string
	events chan engine.Event
	once   sync.Once
}

// Events returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan engine.Event {
	return s.events
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub routes engine events to subscribers. Slow subscribers lose events
// instead of stalling the engine.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	replay  *replayRing
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewHub creates a hub. buffer <= 0 selects the default per-subscriber
// buffer, which is also the number of recent events replayed to new
// subscribers.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		replay: newReplayRing(buffer),
		logger: logger,
	}
}

// Subscribe registers a subscriber for key. Recent events for key are
// queued first.
func (h *Hub) Subscribe(key string) *Subscription {
	sub := &Subscription{key: key, events: make(chan engine.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.replay.snapshot(key) {
		sub.events <- ev
	}
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.logger.Debug("stream subscriber registered", "session_id", key)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.key]; ok {
		if _, exists := set[sub]; exists {
			delete(set, sub)
			sub.close()
			if len(set) == 0 {
				delete(h.subs, sub.key)
			}
			h.logger.Debug("stream subscriber unregistered", "session_id", sub.key)
		}
	}
}

// Publish implements engine.Publisher. It never blocks.
func (h *Hub) Publish(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.replay.push(ev)
	h.deliver(h.subs[ev.SessionID], ev)
	h.deliver(h.subs[AllSessions], ev)
}

func (h *Hub) deliver(set map[*Subscription]struct{}, ev engine.Event) {
	for sub := range set {
		select {
		case sub.events <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Warn("stream subscriber lagging, event dropped", "session_id", ev.SessionID, "type", ev.Type)
		}
	}
}

// Dropped returns the number of events lost to slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers returns the number of live subscriptions for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, set := range h.subs {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, key)
	}
}

var _ engine.Publisher = (*Hub)(nil)
