package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "ratelimit:"

// RedisLimiter shares windows across instances. Windows are aligned to
// multiples of the tier window since the Unix epoch. Redis errors fall back
// to the in-memory limiter so an outage degrades to per-instance limits.
type RedisLimiter struct {
	client   *redis.Client
	fallback *MemoryLimiter
	logger   *zap.Logger
	now      func() time.Time
}

func NewRedisLimiter(client *redis.Client, fallback *MemoryLimiter, logger *zap.Logger) *RedisLimiter {
	if fallback == nil {
		fallback = NewMemoryLimiter(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:   client,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func windowKey(id string, tier Tier, now time.Time) (string, time.Time) {
	size := tier.Window.Milliseconds()
	if size <= 0 {
		size = 1
	}
	idx := now.UnixMilli() / size
	reset := time.UnixMilli((idx + 1) * size)
	return fmt.Sprintf("%s%s:%s:%d", redisKeyPrefix, tier.Name, id, idx), reset
}

func (r *RedisLimiter) Allow(ctx context.Context, id string, tier Tier) (Result, error) {
	now := r.now()
	if tier.Unlimited() {
		return unlimitedResult(now), nil
	}

	key, reset := windowKey(id, tier, now)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, tier.Window)
		return nil
	})
	if err != nil {
		r.logger.Warn("redis rate limit unavailable, using in-memory window",
			zap.String("tier", tier.Name),
			zap.Error(err),
		)
		return r.fallback.Allow(ctx, id, tier)
	}

	return resultFor(tier, int(incr.Val()), reset, now), nil
}
