package monitoring

import (
	"context"
	"fmt"
	"time"

	"chatfabric/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck pings the shared redis client.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddDirectoryCheck verifies the directory answers a snapshot read.
func (h *HealthChecker) AddDirectoryCheck(directory ports.DirectoryRepository, timeout time.Duration) {
	h.AddCheck("directory", func(ctx context.Context) error {
		_, err := directory.ListChannels(ctx)
		return err
	}, timeout)
}

// AddAuditCheck fails once the audit sink has lost more than maxLost
// entries.
func (h *HealthChecker) AddAuditCheck(stats func() (written, dropped, failed int64), maxLost int64, timeout time.Duration) {
	h.AddCheck("audit", func(ctx context.Context) error {
		_, dropped, failed := stats()
		if lost := dropped + failed; maxLost >= 0 && lost > maxLost {
			return fmt.Errorf("%d audit entries lost", lost)
		}
		return nil
	}, timeout)
}
