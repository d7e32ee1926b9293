package rateLimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redisadapter "github.com/radzio23/gigster/internal/adapters/redis"
)

// RateLimiter counts requests per key in fixed windows of period.
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRateLimiter(cache *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{client: cache.Client(), now: time.Now}
}

// Allow counts one request for key and reports whether it fits in rate.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	window := rl.now().UnixNano() / int64(period)
	fullKey := "rl:" + key + ":" + strconv.FormatInt(window, 10)

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return incr.Val() <= int64(rate), nil
}
