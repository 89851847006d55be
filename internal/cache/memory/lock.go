// Package memory implements the lock manager, event bus and rate limiter in
// process memory for single-node deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// LockManager implements domain.LockManager with expiring in-process locks.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	clock func() time.Time
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

// Acquire takes key for at most ttl or fails with domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if l, ok := lm.held[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	id := lm.seq
	lm.held[key] = lease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.id == id {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
