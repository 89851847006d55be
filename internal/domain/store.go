package domain

import (
	"context"
	"time"
)

// RegistryRecordKey is the lock/storage key of the deployment's registry.
const RegistryRecordKey = "registry"

// LedgerRecordKey is the lock key of an account's ledger balance.
func LedgerRecordKey(account Identity) string {
	return "ledger:" + account.Hex()
}

// Tx is the view of every record an operation may read or write. All writes
// made through one Tx commit together or not at all.
type Tx interface {
	Registry(ctx context.Context) (Registry, error)
	InsertRegistry(ctx context.Context, r Registry) error
	UpdateRegistry(ctx context.Context, r Registry) error

	Feed(ctx context.Context, key FeedKey) (OracleFeed, error)
	InsertFeed(ctx context.Context, f OracleFeed) error
	UpdateFeed(ctx context.Context, f OracleFeed) error

	Market(ctx context.Context, key MarketKey) (Market, error)
	InsertMarket(ctx context.Context, m Market) error
	UpdateMarket(ctx context.Context, m Market) error

	Position(ctx context.Context, key PositionKey) (Position, error)
	InsertPosition(ctx context.Context, p Position) error
	UpdatePosition(ctx context.Context, p Position) error

	// Transfer moves amount from one ledger account to another. It fails
	// with ErrInsufficientFunds when from cannot cover it.
	Transfer(ctx context.Context, from, to Identity, amount uint64) error
	Balance(ctx context.Context, account Identity) (uint64, error)
}

// RecordStore persists registry, feed, market, position and ledger records.
// Atomic runs fn in a transaction and commits only if fn returns nil.
// Missing records yield ErrNotFound and duplicate inserts ErrAlreadyExists.
type RecordStore interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Ledger funds and inspects accounts outside of an operation.
type Ledger interface {
	Deposit(ctx context.Context, account Identity, amount uint64) error
	Balance(ctx context.Context, account Identity) (uint64, error)
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
