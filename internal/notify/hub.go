// Package notify implements the per-channel broadcast primitive behind
// the event-stream endpoints. Channels are keyed by table or order id;
// unrelated channels never contend on the same subscriber set.
package notify

import (
	"log/slog"
	"sync"

	"github.com/kirinyoku/dinetrack/internal/domain"
)

const defaultBuffer = 64

// Subscription is one observer's membership in one channel. Events
// arrive on C in the order they were published to the channel.
type Subscription struct {
	channel  string
	observer string
	ch       chan domain.Event
	closed   bool
}

func (s *Subscription) C() <-chan domain.Event { return s.ch }

func (s *Subscription) Channel() string { return s.channel }

type Hub struct {
	mu        sync.RWMutex
	channels  map[string]map[*Subscription]struct{}
	observers map[string]map[*Subscription]struct{}
	buffer    int
	logger    *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		channels:  make(map[string]map[*Subscription]struct{}),
		observers: make(map[string]map[*Subscription]struct{}),
		buffer:    buffer,
		logger:    logger,
	}
}

// Subscribe registers observerID on channel and returns its
// subscription. One observer may hold subscriptions on any number of
// channels; DropObserver removes them all at once.
func (h *Hub) Subscribe(channel, observerID string) *Subscription {
	sub := &Subscription{
		channel:  channel,
		observer: observerID,
		ch:       make(chan domain.Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Subscription]struct{})
	}
	h.channels[channel][sub] = struct{}{}

	if h.observers[observerID] == nil {
		h.observers[observerID] = make(map[*Subscription]struct{})
	}
	h.observers[observerID][sub] = struct{}{}

	return sub
}

// Unsubscribe removes a single subscription. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(sub)
}

// DropObserver removes every subscription held by observerID, in
// whatever channels it joined. Called when the transport detects a
// disconnect so channel membership cannot grow without bound.
func (h *Hub) DropObserver(observerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.observers[observerID] {
		h.removeLocked(sub)
	}
}

// Publish delivers ev to every current subscriber of channel. Delivery
// is non-blocking: a subscriber whose buffer is full loses the event
// rather than stalling the publisher or other subscribers; the events
// it does receive stay in publish order.
func (h *Hub) Publish(channel string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.channels[channel] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				"channel", channel, "observer", sub.observer, "type", ev.Type)
		}
	}
}

// Subscribers returns the current subscriber count for a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.channels[channel])
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true

	if set := h.channels[sub.channel]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.channels, sub.channel)
		}
	}

	if set := h.observers[sub.observer]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.observers, sub.observer)
		}
	}

	close(sub.ch)
}
