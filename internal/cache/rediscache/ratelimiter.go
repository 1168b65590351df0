package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c   *redis.Client
	now func() time.Time
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c:   redis.NewClient(&redis.Options{Addr: addr}),
		now: time.Now,
	}
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}

// Allow counts a hit for key in the current fixed window and reports whether
// the count is still within limit. It returns (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	bucket := rl.now().UnixMilli() / window.Milliseconds()
	k := fmt.Sprintf("dispatch:rl:%s:%d", key, bucket)

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
