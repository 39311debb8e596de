package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/pkg/circuitbreaker"
	"chatfabric/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// RedisStreamWriter appends entries to a redis stream with XADD. Calls go
// through a circuit breaker so an unavailable redis fails batches fast.
type RedisStreamWriter struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	breaker *circuitbreaker.CircuitBreaker
}

func NewRedisStreamWriter(client *redis.Client, stream string, maxLen int64, breaker *circuitbreaker.CircuitBreaker) *RedisStreamWriter {
	if breaker == nil {
		breaker = circuitbreaker.New("audit-redis", circuitbreaker.DefaultConfig())
	}
	return &RedisStreamWriter{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		breaker: breaker,
	}
}

func (w *RedisStreamWriter) Write(ctx context.Context, entries []domain.AuditEntry) error {
	ctx, span := tracing.TraceRedisOperation(ctx, "xadd", w.stream)
	defer span.End()

	err := w.breaker.Execute(ctx, func() error {
		pipe := w.client.Pipeline()
		for _, e := range entries {
			pipe.XAdd(ctx, w.xaddArgs(e))
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to append %d entries to %s: %w", len(entries), w.stream, err)
	}
	return nil
}

func (w *RedisStreamWriter) xaddArgs(e domain.AuditEntry) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: w.stream,
		Values: map[string]interface{}{
			"id":      e.ID,
			"time":    e.Time.UTC().Format(time.RFC3339Nano),
			"command": e.Command,
			"topic":   e.Topic,
			"payload": e.Payload,
			"sender":  e.Sender,
			"status":  string(e.Status),
			"clock":   strconv.FormatInt(e.Clock, 10),
		},
	}
	if w.maxLen > 0 {
		args.MaxLen = w.maxLen
		args.Approx = true
	}
	return args
}

// Close leaves the shared client open; its owner closes it.
func (w *RedisStreamWriter) Close() error {
	return nil
}
