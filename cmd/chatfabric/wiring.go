package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatfabric/internal/core/ports"
	"chatfabric/internal/infrastructure/audit"
	"chatfabric/internal/infrastructure/broadcast"
	"chatfabric/internal/infrastructure/distributed"
	"chatfabric/internal/infrastructure/monitoring"
	"chatfabric/pkg/circuitbreaker"
	"chatfabric/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// buildBroadcaster returns the hub itself in memory mode. In redis mode the
// processor publishes to redis and the bridge relays every topic back into
// the hub, so several processes share one fan-out.
func buildBroadcaster(cfg *config.Config, client *redis.Client, hub *broadcast.Hub, log *zap.SugaredLogger) (ports.Broadcaster, *distributed.RedisBridge) {
	if cfg.Broadcast.Mode != "redis" {
		return hub, nil
	}
	if client == nil {
		log.Warnw("broadcast.mode=redis but redis is unavailable, using in-process fan-out")
		return hub, nil
	}
	bridge := distributed.NewRedisBridge(client, cfg.Broadcast.ChannelPrefix, hub, log.Named("bridge"))
	return bridge, bridge
}

const bridgeStartTimeout = 5 * time.Second

// startBridge runs the bridge in the background and waits for its pattern
// subscription, so nothing is published before this process can relay it.
func startBridge(ctx context.Context, bridge *distributed.RedisBridge, timeout time.Duration, log *zap.SugaredLogger) error {
	done := make(chan error, 1)
	go func() {
		err := bridge.Run(ctx)
		if err != nil && ctx.Err() == nil {
			log.Errorw("redis bridge stopped", "error", err)
		}
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-bridge.Ready():
		return nil
	case err := <-done:
		if err == nil {
			err = errors.New("subscription closed")
		}
		return fmt.Errorf("redis bridge failed to start: %w", err)
	case <-timer.C:
		return fmt.Errorf("redis bridge not subscribed after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bridgeCheck reports unhealthy until the bridge subscription is confirmed.
func bridgeCheck(bridge *distributed.RedisBridge) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-bridge.Ready():
			return nil
		default:
			return errors.New("redis bridge not subscribed")
		}
	}
}

type auditHandle struct {
	sink *audit.Sink
}

// recorder avoids handing a typed nil to the processor when audit is off.
func (a auditHandle) recorder() ports.AuditSink {
	if a.sink == nil {
		return nil
	}
	return a.sink
}

func (a auditHandle) close(ctx context.Context) error {
	if a.sink == nil {
		return nil
	}
	return a.sink.Close(ctx)
}

func buildAuditSink(cfg *config.Config, client *redis.Client, collector *monitoring.PrometheusCollector, log *zap.SugaredLogger) auditHandle {
	if !cfg.Audit.Enabled {
		return auditHandle{}
	}

	var writers audit.MultiWriter
	if cfg.Audit.Path != "" {
		fw, err := audit.NewFileWriter(cfg.Audit.Path)
		if err != nil {
			log.Errorw("failed to open audit file, file audit disabled", "path", cfg.Audit.Path, "error", err)
		} else {
			writers = append(writers, fw)
		}
	}
	if client != nil && cfg.Audit.RedisStream != "" {
		breaker := circuitbreaker.New("audit-redis", circuitbreaker.DefaultConfig())
		breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
		writers = append(writers, audit.NewRedisStreamWriter(client, cfg.Audit.RedisStream, cfg.Audit.RedisMaxLen, breaker))
	}
	if len(writers) == 0 {
		log.Warnw("audit enabled but no writer is available")
		return auditHandle{}
	}

	var writer audit.Writer = writers
	if len(writers) == 1 {
		writer = writers[0]
	}
	sink := audit.NewSink(writer, audit.SinkConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, collector, log.Named("audit"))
	return auditHandle{sink: sink}
}
