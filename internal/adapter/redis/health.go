package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const pingTimeout = 2 * time.Second

// HealthChecker pings Redis for readiness probes. Concurrent probes share one ping.
type HealthChecker struct {
	rdb   *goredis.Client
	group singleflight.Group
}

func NewHealthChecker(rdb *goredis.Client) *HealthChecker {
	return &HealthChecker{rdb: rdb}
}

func (h *HealthChecker) Name() string { return "redis" }

func (h *HealthChecker) Check(ctx context.Context) error {
	_, err, _ := h.group.Do("ping", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
		defer cancel()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return nil, nil
	})
	return err
}
