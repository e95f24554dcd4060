package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/easyash/trustedby/internal/types"
)

// RateLimiter is a fixed-window counter on Redis. One INCR plus a
// conditional EXPIRE per request, pipelined into a single round trip. The
// window boundary comes from the key's TTL so all instances sharing the
// Redis agree on the reset time.
type RateLimiter struct {
	client redis.UniversalClient
}

func NewRateLimiter(client redis.UniversalClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// IncrementAndCheck counts the request against the key's current window and
// reports whether it is within the limit.
func (l *RateLimiter) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	fullKey := "ratelimit:" + key

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	ttl := pipe.TTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.RateLimitResult{}, err
	}

	count := incr.Val()
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := ttl.Val()
	if resetAfter < 0 {
		resetAfter = window
	}

	return types.RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   time.Now().Add(resetAfter),
	}, nil
}
