// Package sqlite implements the domain record, ledger and audit stores on an
// embedded SQLite database (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/store/rows"
)

const schema = `
CREATE TABLE IF NOT EXISTS registry (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    authority        TEXT    NOT NULL,
    treasury         TEXT    NOT NULL,
    freshness_window INTEGER NOT NULL,
    publishers       TEXT    NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS feeds (
    league       TEXT    NOT NULL,
    game_id      TEXT    NOT NULL,
    latest_hash  TEXT    NOT NULL,
    latest_ts    INTEGER NOT NULL DEFAULT 0,
    cid          TEXT    NOT NULL DEFAULT '',
    publisher    TEXT    NOT NULL,
    ring         TEXT    NOT NULL,
    update_count TEXT    NOT NULL DEFAULT '0',
    PRIMARY KEY (league, game_id)
);

CREATE TABLE IF NOT EXISTS markets (
    game_id          TEXT    NOT NULL,
    kind             INTEGER NOT NULL,
    state            INTEGER NOT NULL,
    outcome          INTEGER NOT NULL,
    close_time       INTEGER NOT NULL,
    feed_league      TEXT    NOT NULL,
    feed_game_id     TEXT    NOT NULL,
    treasury         TEXT    NOT NULL,
    total_home_stake TEXT    NOT NULL DEFAULT '0',
    total_away_stake TEXT    NOT NULL DEFAULT '0',
    PRIMARY KEY (game_id, kind)
);

CREATE TABLE IF NOT EXISTS positions (
    game_id TEXT    NOT NULL,
    kind    INTEGER NOT NULL,
    owner   TEXT    NOT NULL,
    side    INTEGER NOT NULL,
    stake   TEXT    NOT NULL DEFAULT '0',
    claimed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (game_id, kind, owner)
);

CREATE TABLE IF NOT EXISTS ledger (
    account TEXT PRIMARY KEY,
    balance TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT     NOT NULL,
    detail     TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_markets_feed  ON markets(feed_league, feed_game_id);
`

// Store implements domain.RecordStore, domain.Ledger and domain.AuditStore
// on SQLite. The pool holds a single connection, so transactions are
// serialized by database/sql.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Atomic runs fn inside a database transaction and commits only when fn
// returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Deposit credits amount to account in its own transaction.
func (s *Store) Deposit(ctx context.Context, account domain.Identity, amount uint64) error {
	return s.Atomic(ctx, func(ctx context.Context, dtx domain.Tx) error {
		t := dtx.(*tx)
		bal, err := t.Balance(ctx, account)
		if err != nil {
			return err
		}
		if amount > math.MaxUint64-bal {
			return domain.ErrMathOverflow
		}
		return t.setBalance(ctx, account, bal+amount)
	})
}

// Balance returns the account's committed balance.
func (s *Store) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	return balance(ctx, s.db, account)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	q querier
}

func (t *tx) Registry(ctx context.Context) (domain.Registry, error) {
	var row rows.Registry
	err := t.q.QueryRowContext(ctx,
		`SELECT authority, treasury, freshness_window, publishers FROM registry WHERE id = 1`,
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
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO registry (id, authority, treasury, freshness_window, publishers)
		 VALUES (1, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		row.Authority, row.Treasury, row.FreshnessWindow, row.Publishers,
	)
	return inserted(res, err, "registry")
}

func (t *tx) UpdateRegistry(ctx context.Context, r domain.Registry) error {
	row, err := rows.FromRegistry(r)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE registry SET authority = ?, treasury = ?, freshness_window = ?, publishers = ? WHERE id = 1`,
		row.Authority, row.Treasury, row.FreshnessWindow, row.Publishers,
	)
	return updated(res, err, "registry")
}

func (t *tx) Feed(ctx context.Context, key domain.FeedKey) (domain.OracleFeed, error) {
	var row rows.Feed
	err := t.q.QueryRowContext(ctx,
		`SELECT league, game_id, latest_hash, latest_ts, cid, publisher, ring, update_count
		 FROM feeds WHERE league = ? AND game_id = ?`,
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
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO feeds (league, game_id, latest_hash, latest_ts, cid, publisher, ring, update_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(league, game_id) DO NOTHING`,
		row.League, row.GameID, row.LatestHash, row.LatestTS, row.CID, row.Publisher, row.Ring, row.UpdateCount,
	)
	return inserted(res, err, "feed "+f.Key.String())
}

func (t *tx) UpdateFeed(ctx context.Context, f domain.OracleFeed) error {
	row, err := rows.FromFeed(f)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE feeds SET latest_hash = ?, latest_ts = ?, cid = ?, publisher = ?, ring = ?, update_count = ?
		 WHERE league = ? AND game_id = ?`,
		row.LatestHash, row.LatestTS, row.CID, row.Publisher, row.Ring, row.UpdateCount, row.League, row.GameID,
	)
	return updated(res, err, "feed "+f.Key.String())
}

func (t *tx) Market(ctx context.Context, key domain.MarketKey) (domain.Market, error) {
	var row rows.Market
	err := t.q.QueryRowContext(ctx,
		`SELECT game_id, kind, state, outcome, close_time, feed_league, feed_game_id, treasury,
		        total_home_stake, total_away_stake
		 FROM markets WHERE game_id = ? AND kind = ?`,
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
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO markets (game_id, kind, state, outcome, close_time, feed_league, feed_game_id,
		                      treasury, total_home_stake, total_away_stake)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(game_id, kind) DO NOTHING`,
		row.GameID, row.Kind, row.State, row.Outcome, row.CloseTime, row.FeedLeague, row.FeedGameID,
		row.Treasury, row.TotalHomeStake, row.TotalAwayStake,
	)
	return inserted(res, err, "market "+m.Key.String())
}

func (t *tx) UpdateMarket(ctx context.Context, m domain.Market) error {
	row := rows.FromMarket(m)
	res, err := t.q.ExecContext(ctx,
		`UPDATE markets SET state = ?, outcome = ?, close_time = ?, feed_league = ?, feed_game_id = ?,
		                    treasury = ?, total_home_stake = ?, total_away_stake = ?
		 WHERE game_id = ? AND kind = ?`,
		row.State, row.Outcome, row.CloseTime, row.FeedLeague, row.FeedGameID,
		row.Treasury, row.TotalHomeStake, row.TotalAwayStake, row.GameID, row.Kind,
	)
	return updated(res, err, "market "+m.Key.String())
}

func (t *tx) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	var row rows.Position
	err := t.q.QueryRowContext(ctx,
		`SELECT game_id, kind, owner, side, stake, claimed
		 FROM positions WHERE game_id = ? AND kind = ? AND owner = ?`,
		key.Market.GameID.String(), int(key.Market.Kind), key.User.Hex(),
	).Scan(&row.GameID, &row.Kind, &row.Owner, &row.Side, &row.Stake, &row.Claimed)
	if err != nil {
		return domain.Position{}, notFound(err, "position")
	}
	return row.Domain()
}

func (t *tx) InsertPosition(ctx context.Context, p domain.Position) error {
	row := rows.FromPosition(p)
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO positions (game_id, kind, owner, side, stake, claimed)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(game_id, kind, owner) DO NOTHING`,
		row.GameID, row.Kind, row.Owner, row.Side, row.Stake, row.Claimed,
	)
	return inserted(res, err, "position")
}

func (t *tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	row := rows.FromPosition(p)
	res, err := t.q.ExecContext(ctx,
		`UPDATE positions SET side = ?, stake = ?, claimed = ?
		 WHERE game_id = ? AND kind = ? AND owner = ?`,
		row.Side, row.Stake, row.Claimed, row.GameID, row.Kind, row.Owner,
	)
	return updated(res, err, "position")
}

func (t *tx) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	return balance(ctx, t.q, account)
}

func (t *tx) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	fromBal, err := t.Balance(ctx, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return domain.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBal, err := t.Balance(ctx, to)
	if err != nil {
		return err
	}
	if amount > math.MaxUint64-toBal {
		return domain.ErrMathOverflow
	}
	if err := t.setBalance(ctx, from, fromBal-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, to, toBal+amount)
}

func (t *tx) setBalance(ctx context.Context, account domain.Identity, bal uint64) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO ledger (account, balance) VALUES (?, ?)
		 ON CONFLICT(account) DO UPDATE SET balance = excluded.balance`,
		account.Hex(), rows.U64(bal),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set balance %s: %w", account.Hex(), err)
	}
	return nil
}

func balance(ctx context.Context, q querier, account domain.Identity) (uint64, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance FROM ledger WHERE account = ?`, account.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: balance %s: %w", account.Hex(), err)
	}
	return rows.ParseU64(raw)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("sqlite: get %s: %w", what, err)
}

func inserted(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrAlreadyExists)
	}
	return nil
}

func updated(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

var (
	_ domain.RecordStore = (*Store)(nil)
	_ domain.Ledger      = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)
