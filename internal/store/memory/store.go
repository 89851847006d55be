// Package memory implements the domain record, ledger and audit stores in
// process memory. It backs tests and single-node development deployments.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// Store implements domain.RecordStore, domain.Ledger and domain.AuditStore.
// Transactions are serialized and buffer their writes until commit.
type Store struct {
	mu        sync.Mutex
	registry  *domain.Registry
	feeds     map[domain.FeedKey]domain.OracleFeed
	markets   map[domain.MarketKey]domain.Market
	positions map[domain.PositionKey]domain.Position
	balances  map[domain.Identity]uint64

	auditMu sync.Mutex
	audit   []domain.AuditEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		feeds:     make(map[domain.FeedKey]domain.OracleFeed),
		markets:   make(map[domain.MarketKey]domain.Market),
		positions: make(map[domain.PositionKey]domain.Position),
		balances:  make(map[domain.Identity]uint64),
	}
}

// Atomic runs fn against a buffered transaction and applies its writes only
// when fn returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Deposit credits amount to account.
func (s *Store) Deposit(ctx context.Context, account domain.Identity, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balances[account]
	if amount > math.MaxUint64-bal {
		return domain.ErrMathOverflow
	}
	s.balances[account] = bal + amount
	return nil
}

// Balance returns the account's committed balance.
func (s *Store) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account], nil
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	var out []domain.AuditEntry
	for _, e := range s.audit {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// tx buffers writes over the committed maps. The store mutex is held for
// its whole lifetime.
type tx struct {
	s *Store

	registry  *domain.Registry
	feeds     map[domain.FeedKey]domain.OracleFeed
	markets   map[domain.MarketKey]domain.Market
	positions map[domain.PositionKey]domain.Position
	balances  map[domain.Identity]uint64
}

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		feeds:     make(map[domain.FeedKey]domain.OracleFeed),
		markets:   make(map[domain.MarketKey]domain.Market),
		positions: make(map[domain.PositionKey]domain.Position),
		balances:  make(map[domain.Identity]uint64),
	}
}

func (t *tx) commit() {
	if t.registry != nil {
		r := *t.registry
		t.s.registry = &r
	}
	for k, v := range t.feeds {
		t.s.feeds[k] = v
	}
	for k, v := range t.markets {
		t.s.markets[k] = v
	}
	for k, v := range t.positions {
		t.s.positions[k] = v
	}
	for k, v := range t.balances {
		t.s.balances[k] = v
	}
}

func (t *tx) Registry(ctx context.Context) (domain.Registry, error) {
	if t.registry != nil {
		return *t.registry, nil
	}
	if t.s.registry != nil {
		return *t.s.registry, nil
	}
	return domain.Registry{}, domain.ErrNotFound
}

func (t *tx) InsertRegistry(ctx context.Context, r domain.Registry) error {
	if _, err := t.Registry(ctx); err == nil {
		return domain.ErrAlreadyExists
	}
	t.registry = &r
	return nil
}

func (t *tx) UpdateRegistry(ctx context.Context, r domain.Registry) error {
	if _, err := t.Registry(ctx); err != nil {
		return err
	}
	t.registry = &r
	return nil
}

func (t *tx) Feed(ctx context.Context, key domain.FeedKey) (domain.OracleFeed, error) {
	return lookup(t.feeds, t.s.feeds, key)
}

func (t *tx) InsertFeed(ctx context.Context, f domain.OracleFeed) error {
	return insert(t.feeds, t.s.feeds, f.Key, f)
}

func (t *tx) UpdateFeed(ctx context.Context, f domain.OracleFeed) error {
	return update(t.feeds, t.s.feeds, f.Key, f)
}

func (t *tx) Market(ctx context.Context, key domain.MarketKey) (domain.Market, error) {
	return lookup(t.markets, t.s.markets, key)
}

func (t *tx) InsertMarket(ctx context.Context, m domain.Market) error {
	return insert(t.markets, t.s.markets, m.Key, m)
}

func (t *tx) UpdateMarket(ctx context.Context, m domain.Market) error {
	return update(t.markets, t.s.markets, m.Key, m)
}

func (t *tx) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	return lookup(t.positions, t.s.positions, key)
}

func (t *tx) InsertPosition(ctx context.Context, p domain.Position) error {
	return insert(t.positions, t.s.positions, p.Key, p)
}

func (t *tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	return update(t.positions, t.s.positions, p.Key, p)
}

func (t *tx) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	if v, ok := t.balances[account]; ok {
		return v, nil
	}
	return t.s.balances[account], nil
}

func (t *tx) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	fromBal, _ := t.Balance(ctx, from)
	if fromBal < amount {
		return domain.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBal, _ := t.Balance(ctx, to)
	if amount > math.MaxUint64-toBal {
		return domain.ErrMathOverflow
	}
	t.balances[from] = fromBal - amount
	t.balances[to] = toBal + amount
	return nil
}

func lookup[K comparable, V any](pending, base map[K]V, key K) (V, error) {
	if v, ok := pending[key]; ok {
		return v, nil
	}
	if v, ok := base[key]; ok {
		return v, nil
	}
	var zero V
	return zero, domain.ErrNotFound
}

func insert[K comparable, V any](pending, base map[K]V, key K, v V) error {
	if _, err := lookup(pending, base, key); err == nil {
		return domain.ErrAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	pending[key] = v
	return nil
}

func update[K comparable, V any](pending, base map[K]V, key K, v V) error {
	if _, err := lookup(pending, base, key); err != nil {
		return err
	}
	pending[key] = v
	return nil
}

var (
	_ domain.RecordStore = (*Store)(nil)
	_ domain.Ledger      = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)
