package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/core/ports"
	"chatfabric/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, queueSize int) (*Hub, ports.DirectoryRepository) {
	t.Helper()
	directory := memory.NewMemoryDirectoryRepository()
	return NewHub(directory, queueSize, nil, zap.NewNop().Sugar()), directory
}

func receive(t *testing.T, ep *Endpoint) domain.BroadcastEvent {
	t.Helper()
	select {
	case event := <-ep.Events():
		return event
	case <-time.After(time.Second):
		t.Fatalf("endpoint %s received nothing", ep.User())
		return domain.BroadcastEvent{}
	}
}

func assertNothing(t *testing.T, ep *Endpoint) {
	t.Helper()
	select {
	case event, ok := <-ep.Events():
		if ok {
			t.Fatalf("endpoint %s unexpectedly received %+v", ep.User(), event)
		}
	default:
	}
}

func TestHub_PublishToChannelSubscribers(t *testing.T) {
	ctx := context.Background()
	hub, directory := newTestHub(t, 8)

	require.NoError(t, directory.CreateChannel(ctx, "general", 1))
	require.NoError(t, directory.Subscribe(ctx, "alice", "general"))
	require.NoError(t, directory.Subscribe(ctx, "bob", "general"))

	alice := hub.Attach("alice", "general")
	bob := hub.Attach("bob", "general")
	carol := hub.Attach("carol", "general")

	event := domain.BroadcastEvent{Topic: "general", Message: "[general] hi", Clock: 5}
	require.NoError(t, hub.Publish(ctx, event))

	assert.Equal(t, event, receive(t, alice))
	assert.Equal(t, event, receive(t, bob))
	assertNothing(t, carol)
}

func TestHub_PrivateTopic(t *testing.T) {
	ctx := context.Background()
	hub, directory := newTestHub(t, 8)

	_, err := directory.RegisterUser(ctx, "bob", 1)
	require.NoError(t, err)

	bob := hub.Attach("bob", "bob")
	eve := hub.Attach("eve", "bob")

	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "bob", Message: "[alice] psst", Clock: 3}))

	assert.Equal(t, "[alice] psst", receive(t, bob).Message)
	assertNothing(t, eve)
}

func TestHub_UnknownTopicDeliversNothing(t *testing.T) {
	ctx := context.Background()
	hub, _ := newTestHub(t, 8)

	ep := hub.Attach("ghost", "ghost")
	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "ghost", Message: "x", Clock: 1}))
	assertNothing(t, ep)
}

func TestHub_NoReplayAfterFollow(t *testing.T) {
	ctx := context.Background()
	hub, directory := newTestHub(t, 8)
	require.NoError(t, directory.CreateChannel(ctx, "news", 1))
	require.NoError(t, directory.Subscribe(ctx, "bob", "news"))

	bob := hub.Attach("bob")
	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "news", Message: "early", Clock: 2}))
	assertNothing(t, bob)

	bob.Follow("news")
	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "news", Message: "late", Clock: 3}))
	assert.Equal(t, "late", receive(t, bob).Message)

	bob.Unfollow("news")
	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "news", Message: "gone", Clock: 4}))
	assertNothing(t, bob)
}

func TestHub_FIFOPerTopic(t *testing.T) {
	ctx := context.Background()
	hub, directory := newTestHub(t, 64)
	require.NoError(t, directory.CreateChannel(ctx, "general", 1))
	require.NoError(t, directory.Subscribe(ctx, "bob", "general"))

	bob := hub.Attach("bob", "general")
	for i := 0; i < 50; i++ {
		require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{
			Topic:   "general",
			Message: fmt.Sprintf("m%d", i),
			Clock:   int64(i + 10),
		}))
	}

	for i := 0; i < 50; i++ {
		event := receive(t, bob)
		assert.Equal(t, fmt.Sprintf("m%d", i), event.Message)
		assert.Equal(t, int64(i+10), event.Clock)
	}
}

func TestHub_SlowEndpointDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	hub, directory := newTestHub(t, 2)
	require.NoError(t, directory.CreateChannel(ctx, "a", 1))
	require.NoError(t, directory.CreateChannel(ctx, "b", 1))
	require.NoError(t, directory.Subscribe(ctx, "slow", "a"))
	require.NoError(t, directory.Subscribe(ctx, "fast", "b"))

	slow := hub.Attach("slow", "a")
	fast := hub.Attach("fast", "b")

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "a", Message: "x", Clock: int64(i)}))
	}
	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "b", Message: "y", Clock: 9}))

	assert.Equal(t, "y", receive(t, fast).Message)
	assert.Equal(t, int64(3), slow.Dropped())
}

func TestHub_Detach(t *testing.T) {
	ctx := context.Background()
	hub, directory := newTestHub(t, 4)
	_, _ = directory.RegisterUser(ctx, "bob", 1)

	bob := hub.Attach("bob", "bob")
	assert.Equal(t, 1, hub.EndpointCount())

	hub.Detach(bob)
	hub.Detach(bob)
	assert.Equal(t, 0, hub.EndpointCount())

	_, open := <-bob.Events()
	assert.False(t, open)

	require.NoError(t, hub.Publish(ctx, domain.BroadcastEvent{Topic: "bob", Message: "x", Clock: 2}))

	bob.Follow("bob")
	assert.Empty(t, bob.Topics())
}
