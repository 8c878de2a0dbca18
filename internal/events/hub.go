// Package events fans lifecycle notifications out to stream subscribers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/logging"
)

// Type names a notification on the wire.
type Type string

const (
	ZoomChanged         Type = "zoom_changed"
	ViewportChanged     Type = "viewport_changed"
	ResolutionChanged   Type = "resolution_changed"
	UpdateStarted       Type = "update_started"
	Reset               Type = "reset"
	CountChanged        Type = "count_changed"
	UpdateFinished      Type = "update_finished"
	RowChanged          Type = "row_changed"
	DataUpdated         Type = "data_updated"
	ComputationStarted  Type = "computation_started"
	ComputationFinished Type = "computation_finished"
	CacheEnabledChanged Type = "cache_enabled_changed"
	CacheSizeChanged    Type = "cache_size_changed"
	DataCleared         Type = "data_cleared"
)

// Event is one notification. Session is empty for store-wide events.
type Event struct {
	Type    Type           `json:"type"`
	Session string         `json:"session,omitempty"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher accepts notifications.
type Publisher interface {
	Publish(Event)
}

// Filter selects the events a subscriber receives; nil accepts everything.
type Filter func(Event) bool

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is a non-blocking broadcaster. Subscribers that fall behind lose events.
type Hub struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		log:  logging.OrNop(logger).Named("events"),
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribe returns a channel of matching events and a function that releases it.
func (h *Hub) Subscribe(buffer int, filter Filter) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{ch: make(chan Event, buffer), filter: filter}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.log.Debug("subscriber lagging, event dropped", zap.String("type", string(ev.Type)))
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close releases every subscriber. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

// ForSession accepts store-wide events and events of one session.
func ForSession(session string) Filter {
	return func(ev Event) bool {
		return ev.Session == "" || ev.Session == session
	}
}
