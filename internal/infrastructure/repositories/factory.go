package repositories

import (
	"context"

	"chatfabric/internal/core/ports"
	"chatfabric/internal/infrastructure/repositories/memory"
	redisrepo "chatfabric/internal/infrastructure/repositories/redis"
	"chatfabric/pkg/config"
	"chatfabric/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory owns the directory and, when enabled, the shared redis
// client used by the broadcast bridge and the audit stream.
type RepositoryFactory struct {
	directory   ports.DirectoryRepository
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to redis when configured. A failed
// connection falls back to in-process operation with a warning.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		directory: memory.NewMemoryDirectoryRepository(),
		logger:    logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, retry.DefaultConfig(), logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to in-process broadcast",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

// DirectoryRepository returns the process-wide directory. The directory is
// always in memory: a single process is authoritative.
func (f *RepositoryFactory) DirectoryRepository() ports.DirectoryRepository {
	return f.directory
}

// RedisClient returns nil when redis is disabled or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
