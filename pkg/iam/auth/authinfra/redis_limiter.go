package authinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/auth"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window counter implementing
// auth.RateLimiter. One counter per (prefix, key) pair, expiring with
// the window.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, prefix string, limit int64, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow increments the window counter for key and reports whether the
// attempt is within the limit.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errx.Wrap(err, "rate limiter unavailable", errx.TypeInternal)
	}
	return count.Val() <= l.limit, nil
}

var _ auth.RateLimiter = (*RedisRateLimiter)(nil)
