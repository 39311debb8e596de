package services

import (
	"sync"

	"chatfabric/internal/core/domain"
)

// History keeps the most recent accepted events per topic.
type History struct {
	mu     sync.RWMutex
	size   int
	topics map[string]*ring
}

type ring struct {
	events []domain.BroadcastEvent
	next   int
	full   bool
}

// NewHistory keeps up to size events per topic. A size of zero disables
// retention.
func NewHistory(size int) *History {
	return &History{
		size:   size,
		topics: make(map[string]*ring),
	}
}

func (h *History) Append(event domain.BroadcastEvent) {
	if h.size <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.topics[event.Topic]
	if !ok {
		r = &ring{events: make([]domain.BroadcastEvent, h.size)}
		h.topics[event.Topic] = r
	}
	r.events[r.next] = event
	r.next = (r.next + 1) % h.size
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the retained events for topic, oldest first.
func (h *History) Recent(topic string) []domain.BroadcastEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.topics[topic]
	if !ok {
		return nil
	}

	if !r.full {
		out := make([]domain.BroadcastEvent, r.next)
		copy(out, r.events[:r.next])
		return out
	}

	out := make([]domain.BroadcastEvent, 0, h.size)
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
