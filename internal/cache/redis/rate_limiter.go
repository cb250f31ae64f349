package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter paces requests to an upstream API across every process that
// shares the Redis instance. It counts requests in a sliding window kept in
// a sorted set.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	key           string
	limit         int
	window        time.Duration
}

// NewRateLimiter allows limit requests per window under key.
func NewRateLimiter(c *Client, key string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		key:           "ratelimit:" + key,
		limit:         limit,
		window:        window,
	}
}

// Allow reports whether one more request fits in the window, counting it
// when it does.
func (rl *RateLimiter) Allow(ctx context.Context) (bool, error) {
	result, err := rl.slidingWindow.Run(ctx, rl.rdb, []string{rl.key},
		time.Now().UnixMicro(), rl.window.Microseconds(), rl.limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", rl.key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", rl.key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until a request is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := rl.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", rl.key, ctx.Err())
		case <-timer.C:
		}
	}
}
