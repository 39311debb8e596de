package main

import (
	"context"
	"net"
	"testing"
	"time"

	"chatfabric/internal/infrastructure/broadcast"
	"chatfabric/internal/infrastructure/distributed"
	"chatfabric/internal/infrastructure/repositories/memory"
	"chatfabric/pkg/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBridge(t *testing.T, addr string) *distributed.RedisBridge {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	hub := broadcast.NewHub(memory.NewMemoryDirectoryRepository(), 8, nil, zap.NewNop().Sugar())
	return distributed.NewRedisBridge(client, "chatfabric:topic:", hub, zap.NewNop().Sugar())
}

func TestStartBridge_FailsWhenRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := newBridge(t, "127.0.0.1:1")
	err := startBridge(ctx, bridge, 5*time.Second, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")

	assert.Error(t, bridgeCheck(bridge)(ctx))
}

func TestStartBridge_TimesOutWithoutSubscription(t *testing.T) {
	// A listener that accepts and never answers leaves the subscription pending.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := newBridge(t, ln.Addr().String())
	start := time.Now()
	err = startBridge(ctx, bridge, 100*time.Millisecond, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not subscribed")
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-bridge.Ready():
		t.Fatal("bridge reported ready without a subscription")
	default:
	}
	assert.Error(t, bridgeCheck(bridge)(ctx))
}

func TestBuildBroadcaster_MemoryModeHasNoBridge(t *testing.T) {
	cfg := &config.Config{}
	cfg.Broadcast.Mode = "memory"
	hub := broadcast.NewHub(memory.NewMemoryDirectoryRepository(), 8, nil, zap.NewNop().Sugar())

	broadcaster, bridge := buildBroadcaster(cfg, nil, hub, zap.NewNop().Sugar())
	assert.Nil(t, bridge)
	assert.Same(t, hub, broadcaster)
}
