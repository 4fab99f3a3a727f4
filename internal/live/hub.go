// Package live fans lifecycle events out to in-process subscribers such as
// websocket clients.
package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/example/attendance-engine/internal/application"
)

// DefaultBuffer is the per-subscriber queue length used when none is configured.
const DefaultBuffer = 16

// ErrHubClosed is returned when subscribing to a hub that has been closed.
var ErrHubClosed = errors.New("live: hub closed")

// Hub delivers events to subscribers without ever blocking the publisher.
// Subscribers that fall behind lose events; the count is kept per subscription.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	buffer int
	logger *slog.Logger
}

// Subscription receives the events visible to one principal.
type Subscription struct {
	events    chan application.Event
	principal application.Principal
	dropped   atomic.Int64
	closeOnce sync.Once
}

// NewHub constructs a hub whose subscribers queue up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With("component", "live.Hub"),
	}
}

// Subscribe registers principal. Administrators see every session, teachers only their own.
func (h *Hub) Subscribe(principal application.Principal) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	sub := &Subscription{
		events:    make(chan application.Event, h.buffer),
		principal: principal,
	}
	h.subs[sub] = struct{}{}
	h.logger.Debug("subscriber added", "actor_id", principal.UserID, "subscribers", len(h.subs))
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()

	if ok {
		sub.close()
		if n := sub.Dropped(); n > 0 {
			h.logger.Warn("subscriber removed after dropping events", "actor_id", sub.principal.UserID, "dropped", n)
		}
	}
}

// Publish implements application.EventPublisher.
func (h *Hub) Publish(ctx context.Context, event application.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for sub := range h.subs {
		if !sub.principal.IsAdmin && sub.principal.UserID != event.TeacherID {
			continue
		}
		select {
		case sub.events <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.close()
	}
	h.subs = map[*Subscription]struct{}{}
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan application.Event {
	return s.events
}

// Principal returns the subscriber identity.
func (s *Subscription) Principal() application.Principal {
	return s.principal
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.events) })
}
