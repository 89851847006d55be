// Package engine executes registry, feed and market operations as atomic
// units over the record store. Each operation locks the records it declares,
// reads the clock, validates every precondition and then commits all record
// writes and ledger transfers together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// Config tunes the engine.
type Config struct {
	// FreshnessWindow seeds a new registry's submission window, in seconds.
	FreshnessWindow int64
	// ResolutionStaleness bounds how old a settlement feed's latest update
	// may be when a market resolves, in seconds.
	ResolutionStaleness int64
	// LockTTL bounds how long one operation may hold its record locks.
	LockTTL time.Duration
	// LockRetry is the pause between attempts on a held lock.
	LockRetry time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FreshnessWindow:     domain.DefaultFreshnessWindow,
		ResolutionStaleness: domain.ResolutionStaleness,
		LockTTL:             10 * time.Second,
		LockRetry:           5 * time.Millisecond,
	}
}

// Engine runs operations against a RecordStore.
type Engine struct {
	store  domain.RecordStore
	locks  domain.LockManager
	auth   domain.Authenticator
	sink   domain.EventSink
	clock  func() int64
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine. The clock defaults to wall-clock Unix seconds.
func New(
	store domain.RecordStore,
	locks domain.LockManager,
	auth domain.Authenticator,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	def := DefaultConfig()
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = def.FreshnessWindow
	}
	if cfg.ResolutionStaleness <= 0 {
		cfg.ResolutionStaleness = def.ResolutionStaleness
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = def.LockRetry
	}
	return &Engine{
		store:  store,
		locks:  locks,
		auth:   auth,
		clock:  func() int64 { return time.Now().Unix() },
		cfg:    cfg,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(clock func() int64) *Engine {
	e.clock = clock
	return e
}

// WithEventSink attaches a receiver for committed events.
func (e *Engine) WithEventSink(sink domain.EventSink) *Engine {
	e.sink = sink
	return e
}

// body is an operation's validation and mutation. It returns the events to
// emit once the transaction commits.
type body func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error)

// recordKeys lists the records an operation touches for a given caller.
type recordKeys func(caller domain.Identity) []string

func static(keys ...string) recordKeys {
	return func(domain.Identity) []string { return keys }
}

// execute authenticates req, locks the declared records, then runs fn in
// one transaction.
func (e *Engine) execute(ctx context.Context, cred domain.Credentials, req domain.Request, keys recordKeys, fn func(caller domain.Identity) body) error {
	op := req.Op()
	caller, err := e.auth.Authenticate(ctx, cred, req)
	if err != nil {
		e.reject(ctx, op, cred.Caller, err)
		return fmt.Errorf("engine: %s: %w", op, err)
	}

	unlock, err := e.lockAll(ctx, keys(caller))
	if err != nil {
		return fmt.Errorf("engine: %s: lock: %w", op, err)
	}
	defer unlock()

	now := e.clock()
	run := fn(caller)
	var events []domain.Event
	err = e.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		evs, err := run(ctx, tx, now)
		events = evs
		return err
	})
	if err != nil {
		e.reject(ctx, op, caller, err)
		return fmt.Errorf("engine: %s: %w", op, err)
	}

	e.logger.InfoContext(ctx, "operation committed",
		slog.String("op", string(op)),
		slog.String("caller", caller.Hex()),
		slog.Int64("now", now),
	)
	if e.sink != nil {
		for _, ev := range events {
			e.sink.Emit(ctx, ev)
		}
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, op domain.Op, caller domain.Identity, err error) {
	e.logger.DebugContext(ctx, "operation rejected",
		slog.String("op", string(op)),
		slog.String("caller", caller.Hex()),
		slog.String("code", domain.CodeOf(err)),
		slog.String("error", err.Error()),
	)
}

// lockAll acquires keys in sorted order so concurrent operations with
// overlapping record sets cannot deadlock.
func (e *Engine) lockAll(ctx context.Context, keys []string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	prev := ""
	for i, k := range sorted {
		if i > 0 && k == prev {
			continue
		}
		prev = k
		u, err := e.acquire(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}

func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		t := time.NewTimer(e.cfg.LockRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// view runs a read-only function in its own transaction.
func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return e.store.Atomic(ctx, fn)
}

func (e *Engine) event(t domain.EventType, caller domain.Identity, now int64, attrs map[string]string) domain.Event {
	return domain.NewEvent(t, caller, time.Unix(now, 0), attrs)
}
