package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metrics receives fan-out measurements. A nil Metrics is allowed.
type Metrics interface {
	RecordDelivered(topic string)
	RecordDropped(topic string)
	SetEndpoints(count int)
}

// Hub delivers broadcast events to attached endpoints. An endpoint receives
// an event only if it follows the event's topic and the directory lists its
// user as entitled to that topic at the instant of delivery.
type Hub struct {
	directory ports.DirectoryRepository
	queueSize int
	metrics   Metrics
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	byTopic   map[string]map[string]*Endpoint
}

// NewHub creates a hub whose endpoints buffer up to queueSize events each.
func NewHub(directory ports.DirectoryRepository, queueSize int, metrics Metrics, logger *zap.SugaredLogger) *Hub {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Hub{
		directory: directory,
		queueSize: queueSize,
		metrics:   metrics,
		logger:    logger,
		endpoints: make(map[string]*Endpoint),
		byTopic:   make(map[string]map[string]*Endpoint),
	}
}

// Attach registers a new endpoint for user following topics.
func (h *Hub) Attach(user string, topics ...string) *Endpoint {
	ep := &Endpoint{
		id:     uuid.NewString(),
		user:   user,
		hub:    h,
		events: make(chan domain.BroadcastEvent, h.queueSize),
		topics: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.endpoints[ep.id] = ep
	for _, topic := range topics {
		h.followLocked(ep, topic)
	}
	count := len(h.endpoints)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetEndpoints(count)
	}
	h.logger.Debugw("endpoint attached", "endpoint_id", ep.id, "user", user, "topics", topics)
	return ep
}

// Detach removes the endpoint and closes its event channel. Detaching twice
// is a no-op.
func (h *Hub) Detach(ep *Endpoint) {
	h.mu.Lock()
	if _, ok := h.endpoints[ep.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.endpoints, ep.id)
	for topic := range ep.topics {
		h.unfollowLocked(ep, topic)
	}
	close(ep.events)
	count := len(h.endpoints)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetEndpoints(count)
	}
	h.logger.Debugw("endpoint detached", "endpoint_id", ep.id, "user", ep.user, "dropped", ep.Dropped())
}

// Publish delivers event to every entitled endpoint following its topic.
// Delivery never blocks: an endpoint whose queue is full loses the event.
func (h *Hub) Publish(ctx context.Context, event domain.BroadcastEvent) error {
	entitled, err := h.directory.Subscribers(ctx, event.Topic)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribers for %q: %w", event.Topic, err)
	}
	if len(entitled) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(entitled))
	for _, user := range entitled {
		allowed[user] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ep := range h.byTopic[event.Topic] {
		if _, ok := allowed[ep.user]; !ok {
			continue
		}
		select {
		case ep.events <- event:
			if h.metrics != nil {
				h.metrics.RecordDelivered(event.Topic)
			}
		default:
			ep.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.RecordDropped(event.Topic)
			}
			h.logger.Warnw("endpoint queue full, event dropped",
				"endpoint_id", ep.id,
				"user", ep.user,
				"topic", event.Topic,
				"clock", event.Clock,
			)
		}
	}
	return nil
}

// EndpointCount returns the number of attached endpoints.
func (h *Hub) EndpointCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.endpoints)
}

func (h *Hub) followLocked(ep *Endpoint, topic string) {
	ep.topics[topic] = struct{}{}
	followers, ok := h.byTopic[topic]
	if !ok {
		followers = make(map[string]*Endpoint)
		h.byTopic[topic] = followers
	}
	followers[ep.id] = ep
}

func (h *Hub) unfollowLocked(ep *Endpoint, topic string) {
	delete(ep.topics, topic)
	if followers, ok := h.byTopic[topic]; ok {
		delete(followers, ep.id)
		if len(followers) == 0 {
			delete(h.byTopic, topic)
		}
	}
}

// Endpoint is one consumer of the broadcast channel.
type Endpoint struct {
	id      string
	user    string
	hub     *Hub
	events  chan domain.BroadcastEvent
	topics  map[string]struct{} // guarded by hub.mu
	dropped atomic.Int64
}

func (e *Endpoint) ID() string   { return e.id }
func (e *Endpoint) User() string { return e.user }

// Events is closed when the endpoint is detached.
func (e *Endpoint) Events() <-chan domain.BroadcastEvent {
	return e.events
}

// Follow starts receiving events for topic. Events published earlier are
// not replayed.
func (e *Endpoint) Follow(topic string) {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	if _, attached := e.hub.endpoints[e.id]; attached {
		e.hub.followLocked(e, topic)
	}
}

func (e *Endpoint) Unfollow(topic string) {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	e.hub.unfollowLocked(e, topic)
}

// Topics returns the topics the endpoint follows.
func (e *Endpoint) Topics() []string {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	topics := make([]string, 0, len(e.topics))
	for topic := range e.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Dropped returns how many events were lost because the queue was full.
func (e *Endpoint) Dropped() int64 {
	return e.dropped.Load()
}
