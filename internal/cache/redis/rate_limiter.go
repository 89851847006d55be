package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated by one Lua script call.
type RateLimiter struct {
	c      *Client
	script *redis.Script

	// Limit and Window are the budget Wait applies.
	Limit  int
	Window time.Duration
}

// NewRateLimiter creates a RateLimiter whose Wait allows limit calls per
// window for each key.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		c:      c,
		script: redis.NewScript(slidingWindowLua),
		Limit:  limit,
		Window: window,
	}
}

// Allow records one call for key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.script.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until Allow admits a call for key or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, err := rl.Allow(ctx, key, rl.Limit, rl.Window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
