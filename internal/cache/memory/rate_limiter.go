package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key
// and per (limit, window) budget.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	limit  int
	window time.Duration
}

// NewRateLimiter returns a RateLimiter whose Wait allows limit calls per
// window for each key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), limit: limit, window: window}
}

func (rl *RateLimiter) get(key string, limit int, window time.Duration) *rate.Limiter {
	id := fmt.Sprintf("%s|%d|%d", key, limit, window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[id] = l
	}
	return l
}

// Allow reports whether a call for key fits in the budget.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("memory: rate limit %s: %w", key, domain.ErrInvalidInput)
	}
	return rl.get(key, limit, window).Allow(), nil
}

// Wait blocks until a call for key is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := rl.get(key, rl.limit, rl.window).Wait(ctx); err != nil {
		return fmt.Errorf("memory: rate limit wait %s: %w", key, err)
	}
	return nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
