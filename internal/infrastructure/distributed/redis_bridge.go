package distributed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/core/ports"
	"chatfabric/pkg/codec"
	"chatfabric/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBridge carries broadcast events over redis pub/sub. Publish sends
// each event on the channel <prefix><topic>; Run pattern-subscribes to the
// prefix and hands every received event to the local broadcaster.
type RedisBridge struct {
	client *redis.Client
	prefix string
	local  ports.Broadcaster
	logger *zap.SugaredLogger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	ready   chan struct{}
	started bool
}

func NewRedisBridge(client *redis.Client, prefix string, local ports.Broadcaster, logger *zap.SugaredLogger) *RedisBridge {
	return &RedisBridge{
		client: client,
		prefix: prefix,
		local:  local,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// ChannelFor returns the redis channel carrying topic.
func (b *RedisBridge) ChannelFor(topic string) string {
	return b.prefix + topic
}

// TopicFrom extracts the topic from a redis channel name.
func (b *RedisBridge) TopicFrom(channel string) (string, bool) {
	if !strings.HasPrefix(channel, b.prefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, b.prefix), true
}

// Publish encodes event and publishes it to redis.
func (b *RedisBridge) Publish(ctx context.Context, event domain.BroadcastEvent) error {
	channel := b.ChannelFor(event.Topic)
	ctx, span := tracing.TraceRedisOperation(ctx, "publish", channel)
	defer span.End()

	data, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debugw("published event",
		"topic", event.Topic,
		"clock", event.Clock,
	)
	return nil
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run relays events from redis to the local broadcaster until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("redis bridge already running")
	}
	b.started = true
	b.pubsub = b.client.PSubscribe(ctx, b.prefix+"*")
	b.mu.Unlock()
	defer b.pubsub.Close()

	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s*: %w", b.prefix, err)
	}
	close(b.ready)
	b.logger.Infow("redis bridge subscribed", "pattern", b.prefix+"*")

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *RedisBridge) relay(ctx context.Context, msg *redis.Message) {
	topic, ok := b.TopicFrom(msg.Channel)
	if !ok {
		return
	}

	var event domain.BroadcastEvent
	if err := codec.Unmarshal([]byte(msg.Payload), &event); err != nil {
		b.logger.Warnw("failed to decode event",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}
	if event.Topic != topic {
		b.logger.Warnw("event topic does not match channel",
			"channel", msg.Channel,
			"topic", event.Topic,
		)
		return
	}

	if err := b.local.Publish(ctx, event); err != nil {
		b.logger.Warnw("error delivering event",
			"topic", event.Topic,
			"error", err,
		)
	}
}

func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
