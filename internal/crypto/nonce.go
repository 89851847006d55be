package crypto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// NonceGuard rejects a (caller, nonce) pair seen within its TTL.
type NonceGuard interface {
	Use(ctx context.Context, caller domain.Identity, nonce uint64) error
}

func nonceKey(caller domain.Identity, nonce uint64) string {
	return fmt.Sprintf("nonce:%s:%d", caller.Hex(), nonce)
}

// MemoryNonceGuard remembers used nonces in process. It is safe for
// concurrent use.
type MemoryNonceGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryNonceGuard creates a guard that rejects reuse within ttl.
func NewMemoryNonceGuard(ttl time.Duration) *MemoryNonceGuard {
	return &MemoryNonceGuard{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (g *MemoryNonceGuard) WithClock(now func() time.Time) *MemoryNonceGuard {
	g.now = now
	return g
}

// Use records the pair, failing with domain.ErrReplayedNonce if it was
// recorded within the TTL.
func (g *MemoryNonceGuard) Use(_ context.Context, caller domain.Identity, nonce uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := nonceKey(caller, nonce)
	now := g.now()
	if at, ok := g.seen[k]; ok && now.Sub(at) < g.ttl {
		return domain.ErrReplayedNonce
	}
	g.seen[k] = now
	return nil
}

// Cleanup drops expired entries. Call it periodically.
func (g *MemoryNonceGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, at := range g.seen {
		if now.Sub(at) >= g.ttl {
			delete(g.seen, k)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (g *MemoryNonceGuard) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			g.Cleanup()
		}
	}
}

// LockNonceGuard records nonces as never-released locks, so nodes sharing a
// distributed LockManager share one replay window.
type LockNonceGuard struct {
	locks domain.LockManager
	ttl   time.Duration
}

// NewLockNonceGuard creates a guard on top of locks.
func NewLockNonceGuard(locks domain.LockManager, ttl time.Duration) *LockNonceGuard {
	return &LockNonceGuard{locks: locks, ttl: ttl}
}

// Use claims the pair for the TTL.
func (g *LockNonceGuard) Use(ctx context.Context, caller domain.Identity, nonce uint64) error {
	_, err := g.locks.Acquire(ctx, nonceKey(caller, nonce), g.ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		return domain.ErrReplayedNonce
	}
	return err
}
