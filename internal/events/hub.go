// Package events implements C1: fan-out of structured downstream/upstream
// traffic records to subscribers (admin websocket, persistence sink).
// Lossy under slow consumers, as spec §2/§5 requires. Grounded on the
// capture-then-forward idiom of the teacher's
// internal/api/middleware/request_logging.go, generalized into a
// broadcaster so more than one subscriber (the admin feed and the
// storage sink) can observe the same stream.
package events

import (
	"sync"

	"github.com/dfft546/gproxy/internal/model"
)

// SubscriberQueueSize bounds each subscriber's channel. A subscriber that
// cannot keep up loses events rather than backpressuring the producer
// (spec §5: "slow subscribers lose events (documented)").
const SubscriberQueueSize = 256

// Hub fans out UpstreamRecord values to subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan model.UpstreamRecord
	next int
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]chan model.UpstreamRecord)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The returned channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (<-chan model.UpstreamRecord, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan model.UpstreamRecord, SubscriberQueueSize)
	h.subs[id] = ch
	return ch, func() { h.unsubscribe(id) }
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish broadcasts rec to every current subscriber. A full subscriber
// queue drops the event for that subscriber only (never blocks the
// publisher — publishing must never suspend on a slow consumer, per the
// §5 "no shared mutex held across an I/O suspension" spirit applied to
// channel sends).
func (h *Hub) Publish(rec model.UpstreamRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			// Drop: slow consumer, documented lossy behavior.
		}
	}
}
