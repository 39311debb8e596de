package redis

import (
	"context"
	"fmt"
	"time"

	"chatfabric/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

func (o Options) redisOptions() *redis.Options {
	minIdle := 2
	if o.PoolSize > 0 && o.PoolSize < minIdle {
		minIdle = o.PoolSize
	}
	return &redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		MinIdleConns: minIdle,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient connects to redis, retrying the initial ping with backoff.
func NewRedisClient(ctx context.Context, opts Options, retryCfg retry.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(opts.redisOptions())

	attempt := 0
	err := retry.Retry(ctx, retryCfg, func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := client.Ping(pingCtx).Err()
		if err != nil {
			logger.Warnw("redis ping failed",
				"address", opts.Address,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", opts.Address,
		"db", opts.DB,
		"pool_size", opts.PoolSize,
	)

	return client, nil
}

// CloseRedisClient closes the client if there is one.
func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
