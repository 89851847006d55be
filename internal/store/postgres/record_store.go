package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/store/rows"
)

// Store implements domain.RecordStore, domain.Ledger and domain.AuditStore
// using PostgreSQL. Every read inside a transaction takes a row lock, so two
// nodes sharing one database serialize on the records they touch.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close is a no-op; the pool belongs to the Client.
func (s *Store) Close() error { return nil }

// Atomic runs fn inside a read-committed transaction and commits only when
// fn returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Deposit credits amount to account. The credit is a single upsert, so
// deposits racing other credits to a new account all land.
func (s *Store) Deposit(ctx context.Context, account domain.Identity, amount uint64) error {
	return (&tx{q: s.pool}).credit(ctx, account, amount)
}

// Balance returns the account's committed balance.
func (s *Store) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	return balance(ctx, s.pool, account, "")
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tx struct {
	q querier
}

func (t *tx) Registry(ctx context.Context) (domain.Registry, error) {
	var row rows.Registry
	err := t.q.QueryRow(ctx,
		`SELECT authority, treasury, freshness_window, publishers::text FROM registry WHERE id = 1 FOR UPDATE`,
	).Scan(&row.Authority, &row.Treasury, &row.FreshnessWindow, &row.Publishers)
	if err != nil {
		return domain.Registry{}, notFound(err, "registry")
	}
	return row.Domain()
}

func (t *tx) InsertRegistry(ctx context.Context, r domain.Registry) error {
	row, err := rows.FromRegistry(r)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`INSERT INTO registry (id, authority, treasury, freshness_window, publishers)
		 VALUES (1, $1, $2, $3, $4::jsonb) ON CONFLICT (id) DO NOTHING`,
		row.Authority, row.Treasury, row.FreshnessWindow, row.Publishers,
	)
	return inserted(tag, err, "registry")
}

func (t *tx) UpdateRegistry(ctx context.Context, r domain.Registry) error {
	row, err := rows.FromRegistry(r)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE registry SET authority = $1, treasury = $2, freshness_window = $3,
		                     publishers = $4::jsonb, updated_at = NOW()
		 WHERE id = 1`,
		row.Authority, row.Treasury, row.FreshnessWindow, row.Publishers,
	)
	return updated(tag, err, "registry")
}

func (t *tx) Feed(ctx context.Context, key domain.FeedKey) (domain.OracleFeed, error) {
	var row rows.Feed
	err := t.q.QueryRow(ctx,
		`SELECT league, game_id, latest_hash, latest_ts, cid, publisher, ring::text, update_count::text
		 FROM feeds WHERE league = $1 AND game_id = $2 FOR UPDATE`,
		key.League.String(), key.GameID.String(),
	).Scan(&row.League, &row.GameID, &row.LatestHash, &row.LatestTS, &row.CID, &row.Publisher, &row.Ring, &row.UpdateCount)
	if err != nil {
		return domain.OracleFeed{}, notFound(err, "feed "+key.String())
	}
	return row.Domain()
}

func (t *tx) InsertFeed(ctx context.Context, f domain.OracleFeed) error {
	row, err := rows.FromFeed(f)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`INSERT INTO feeds (league, game_id, latest_hash, latest_ts, cid, publisher, ring, update_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::numeric) ON CONFLICT (league, game_id) DO NOTHING`,
		row.League, row.GameID, row.LatestHash, row.LatestTS, row.CID, row.Publisher, row.Ring, row.UpdateCount,
	)
	return inserted(tag, err, "feed "+f.Key.String())
}

func (t *tx) UpdateFeed(ctx context.Context, f domain.OracleFeed) error {
	row, err := rows.FromFeed(f)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE feeds SET latest_hash = $3, latest_ts = $4, cid = $5, publisher = $6,
		                  ring = $7::jsonb, update_count = $8::numeric, updated_at = NOW()
		 WHERE league = $1 AND game_id = $2`,
		row.League, row.GameID, row.LatestHash, row.LatestTS, row.CID, row.Publisher, row.Ring, row.UpdateCount,
	)
	return updated(tag, err, "feed "+f.Key.String())
}

func (t *tx) Market(ctx context.Context, key domain.MarketKey) (domain.Market, error) {
	var row rows.Market
	err := t.q.QueryRow(ctx,
		`SELECT game_id, kind, state, outcome, close_time, feed_league, feed_game_id, treasury,
		        total_home_stake::text, total_away_stake::text
		 FROM markets WHERE game_id = $1 AND kind = $2 FOR UPDATE`,
		key.GameID.String(), int(key.Kind),
	).Scan(&row.GameID, &row.Kind, &row.State, &row.Outcome, &row.CloseTime, &row.FeedLeague,
		&row.FeedGameID, &row.Treasury, &row.TotalHomeStake, &row.TotalAwayStake)
	if err != nil {
		return domain.Market{}, notFound(err, "market "+key.String())
	}
	return row.Domain()
}

func (t *tx) InsertMarket(ctx context.Context, m domain.Market) error {
	row := rows.FromMarket(m)
	tag, err := t.q.Exec(ctx,
		`INSERT INTO markets (game_id, kind, state, outcome, close_time, feed_league, feed_game_id,
		                      treasury, total_home_stake, total_away_stake)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric)
		 ON CONFLICT (game_id, kind) DO NOTHING`,
		row.GameID, row.Kind, row.State, row.Outcome, row.CloseTime, row.FeedLeague, row.FeedGameID,
		row.Treasury, row.TotalHomeStake, row.TotalAwayStake,
	)
	return inserted(tag, err, "market "+m.Key.String())
}

func (t *tx) UpdateMarket(ctx context.Context, m domain.Market) error {
	row := rows.FromMarket(m)
	tag, err := t.q.Exec(ctx,
		`UPDATE markets SET state = $3, outcome = $4, close_time = $5, feed_league = $6, feed_game_id = $7,
		                    treasury = $8, total_home_stake = $9::numeric, total_away_stake = $10::numeric,
		                    updated_at = NOW()
		 WHERE game_id = $1 AND kind = $2`,
		row.GameID, row.Kind, row.State, row.Outcome, row.CloseTime, row.FeedLeague, row.FeedGameID,
		row.Treasury, row.TotalHomeStake, row.TotalAwayStake,
	)
	return updated(tag, err, "market "+m.Key.String())
}

func (t *tx) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	var row rows.Position
	err := t.q.QueryRow(ctx,
		`SELECT game_id, kind, owner, side, stake::text, claimed
		 FROM positions WHERE game_id = $1 AND kind = $2 AND owner = $3 FOR UPDATE`,
		key.Market.GameID.String(), int(key.Market.Kind), key.User.Hex(),
	).Scan(&row.GameID, &row.Kind, &row.Owner, &row.Side, &row.Stake, &row.Claimed)
	if err != nil {
		return domain.Position{}, notFound(err, "position")
	}
	return row.Domain()
}

func (t *tx) InsertPosition(ctx context.Context, p domain.Position) error {
	row := rows.FromPosition(p)
	tag, err := t.q.Exec(ctx,
		`INSERT INTO positions (game_id, kind, owner, side, stake, claimed)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6) ON CONFLICT (game_id, kind, owner) DO NOTHING`,
		row.GameID, row.Kind, row.Owner, row.Side, row.Stake, row.Claimed,
	)
	return inserted(tag, err, "position")
}

func (t *tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	row := rows.FromPosition(p)
	tag, err := t.q.Exec(ctx,
		`UPDATE positions SET side = $4, stake = $5::numeric, claimed = $6, updated_at = NOW()
		 WHERE game_id = $1 AND kind = $2 AND owner = $3`,
		row.GameID, row.Kind, row.Owner, row.Side, row.Stake, row.Claimed,
	)
	return updated(tag, err, "position")
}

func (t *tx) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	return balance(ctx, t.q, account, " FOR UPDATE")
}

func (t *tx) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	fromBal, err := t.Balance(ctx, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return domain.ErrInsufficientFunds
	}
	if amount == 0 || from == to {
		return nil
	}
	if err := t.debit(ctx, from, amount); err != nil {
		return err
	}
	return t.credit(ctx, to, amount)
}

func (t *tx) debit(ctx context.Context, account domain.Identity, amount uint64) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE ledger SET balance = balance - $2::numeric, updated_at = NOW()
		 WHERE account = $1 AND balance >= $2::numeric`,
		account.Hex(), rows.U64(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", account.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

// credit adds amount to account in one statement, creating the row when
// needed. The guard keeps balances within uint64.
func (t *tx) credit(ctx context.Context, account domain.Identity, amount uint64) error {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO ledger (account, balance) VALUES ($1, $2::numeric)
		 ON CONFLICT (account) DO UPDATE SET balance = ledger.balance + EXCLUDED.balance, updated_at = NOW()
		 WHERE ledger.balance + EXCLUDED.balance <= 18446744073709551615`,
		account.Hex(), rows.U64(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMathOverflow
	}
	return nil
}

func balance(ctx context.Context, q querier, account domain.Identity, lock string) (uint64, error) {
	var raw string
	err := q.QueryRow(ctx, `SELECT balance::text FROM ledger WHERE account = $1`+lock, account.Hex()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", account.Hex(), err)
	}
	return rows.ParseU64(raw)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: get %s: %w", what, err)
}

func inserted(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrAlreadyExists)
	}
	return nil
}

func updated(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

var (
	_ domain.RecordStore = (*Store)(nil)
	_ domain.Ledger      = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)
