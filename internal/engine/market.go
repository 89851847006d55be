package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// InitMarket opens a market against an existing settlement feed. Anyone may
// call it; the (game, kind) key must be new.
func (e *Engine) InitMarket(ctx context.Context, cred domain.Credentials, req domain.InitMarketRequest) (domain.Market, error) {
	var out domain.Market
	keys := static(req.Market.RecordKey(), req.Feed.RecordKey())
	err := e.execute(ctx, cred, req, keys, func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			if _, err := tx.Market(ctx, req.Market); err == nil {
				return nil, domain.ErrAlreadyExists
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			if _, err := tx.Feed(ctx, req.Feed); err != nil {
				return nil, fmt.Errorf("settlement feed %s: %w", req.Feed, err)
			}
			m := domain.NewMarket(req.Market, req.CloseTime, req.Feed, req.Treasury)
			if err := tx.InsertMarket(ctx, m); err != nil {
				return nil, err
			}
			out = m
			attrs := marketAttrs(req.Market)
			attrs["close_time"] = strconv.FormatInt(req.CloseTime, 10)
			attrs["settlement_feed"] = req.Feed.String()
			attrs["escrow"] = m.Escrow().Hex()
			return []domain.Event{e.event(domain.EventMarketInitialized, caller, now, attrs)}, nil
		}
	})
	return out, err
}

// PlacePosition stakes amount on side for the caller, moving the funds from
// the caller's ledger account into the market escrow.
func (e *Engine) PlacePosition(ctx context.Context, cred domain.Credentials, req domain.PlacePositionRequest) (domain.Position, error) {
	var out domain.Position
	escrow := req.Market.Escrow()
	err := e.execute(ctx, cred, req, positionKeys(req.Market), func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			m, err := tx.Market(ctx, req.Market)
			if err != nil {
				return nil, err
			}
			if err := m.CheckStake(req.Side, req.Amount, now); err != nil {
				return nil, err
			}

			pk := domain.PositionKey{Market: req.Market, User: caller}
			p, err := tx.Position(ctx, pk)
			isNew := errors.Is(err, domain.ErrNotFound)
			if err != nil && !isNew {
				return nil, err
			}
			if isNew {
				p = domain.NewPosition(pk)
			}
			if err := p.CheckAdd(req.Side, req.Amount); err != nil {
				return nil, err
			}

			if err := tx.Transfer(ctx, caller, escrow, req.Amount); err != nil {
				return nil, err
			}
			if err := m.AddStake(req.Side, req.Amount); err != nil {
				return nil, err
			}
			if err := p.Add(req.Side, req.Amount); err != nil {
				return nil, err
			}
			if err := tx.UpdateMarket(ctx, m); err != nil {
				return nil, err
			}
			if isNew {
				err = tx.InsertPosition(ctx, p)
			} else {
				err = tx.UpdatePosition(ctx, p)
			}
			if err != nil {
				return nil, err
			}
			out = p

			attrs := marketAttrs(req.Market)
			attrs["user"] = caller.Hex()
			attrs["side"] = req.Side.String()
			attrs["amount"] = strconv.FormatUint(req.Amount, 10)
			attrs["position_stake"] = strconv.FormatUint(p.Stake, 10)
			return []domain.Event{e.event(domain.EventPositionPlaced, caller, now, attrs)}, nil
		}
	})
	return out, err
}

// LockMarket closes an Open market to new stakes. Only the authority may
// call it.
func (e *Engine) LockMarket(ctx context.Context, cred domain.Credentials, req domain.LockMarketRequest) (domain.Market, error) {
	return e.transition(ctx, cred, req, req.Market, nil, domain.EventMarketLocked,
		func(m *domain.Market, _ domain.OracleFeed, _ int64) error { return m.Lock() })
}

// VoidMarket cancels an Open or Locked market. Only the authority may call
// it. Escrowed stakes are not refunded.
func (e *Engine) VoidMarket(ctx context.Context, cred domain.Credentials, req domain.VoidMarketRequest) (domain.Market, error) {
	return e.transition(ctx, cred, req, req.Market, nil, domain.EventMarketVoided,
		func(m *domain.Market, _ domain.OracleFeed, _ int64) error { return m.Void() })
}

// ResolveMarket fixes a Locked market's outcome after checking that its
// settlement feed was updated within the resolution staleness bound of now.
// Only the authority may call it.
func (e *Engine) ResolveMarket(ctx context.Context, cred domain.Credentials, req domain.ResolveMarketRequest) (domain.Market, error) {
	// The settlement feed is fixed at market creation, so it can be read
	// before the market lock is held.
	var feedKey domain.FeedKey
	err := e.view(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Market(ctx, req.Market)
		if err != nil {
			return err
		}
		feedKey = m.SettlementFeed
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: %s: %w", req.Op(), err)
	}

	return e.transition(ctx, cred, req, req.Market, &feedKey, domain.EventMarketResolved,
		func(m *domain.Market, feed domain.OracleFeed, now int64) error {
			return m.Resolve(req.Outcome, feed, now, e.cfg.ResolutionStaleness)
		})
}

// transition runs an authority-only state change on a market.
func (e *Engine) transition(
	ctx context.Context,
	cred domain.Credentials,
	req domain.Request,
	key domain.MarketKey,
	feedKey *domain.FeedKey,
	evType domain.EventType,
	apply func(m *domain.Market, feed domain.OracleFeed, now int64) error,
) (domain.Market, error) {
	var out domain.Market
	keys := []string{domain.RegistryRecordKey, key.RecordKey()}
	if feedKey != nil {
		keys = append(keys, feedKey.RecordKey())
	}
	err := e.execute(ctx, cred, req, static(keys...), func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			reg, err := tx.Registry(ctx)
			if err != nil {
				return nil, err
			}
			if err := reg.Authorize(caller); err != nil {
				return nil, err
			}
			m, err := tx.Market(ctx, key)
			if err != nil {
				return nil, err
			}
			var feed domain.OracleFeed
			if feedKey != nil {
				if feed, err = tx.Feed(ctx, *feedKey); err != nil {
					return nil, err
				}
			}
			if err := apply(&m, feed, now); err != nil {
				return nil, err
			}
			if err := tx.UpdateMarket(ctx, m); err != nil {
				return nil, err
			}
			out = m

			attrs := marketAttrs(key)
			attrs["state"] = m.State.String()
			if m.State == domain.MarketResolved {
				attrs["outcome"] = m.Outcome.String()
				attrs["feed_hash"] = feed.LatestHash.String()
				attrs["feed_ts"] = strconv.FormatInt(feed.LatestTS, 10)
			}
			return []domain.Event{e.event(evType, caller, now, attrs)}, nil
		}
	})
	return out, err
}

// Claim pays the caller's pari-mutuel share of a Resolved market from the
// escrow and marks the position claimed. It returns the amount paid.
func (e *Engine) Claim(ctx context.Context, cred domain.Credentials, req domain.ClaimRequest) (uint64, error) {
	var paid uint64
	escrow := req.Market.Escrow()
	err := e.execute(ctx, cred, req, positionKeys(req.Market), func(caller domain.Identity) body {
		return func(ctx context.Context, tx domain.Tx, now int64) ([]domain.Event, error) {
			m, err := tx.Market(ctx, req.Market)
			if err != nil {
				return nil, err
			}
			if m.State != domain.MarketResolved {
				return nil, domain.ErrMarketNotResolved
			}
			p, err := tx.Position(ctx, domain.PositionKey{Market: req.Market, User: caller})
			if err != nil {
				return nil, err
			}
			if err := p.CheckClaim(m); err != nil {
				return nil, err
			}
			amount, err := domain.Payout(m, p)
			if err != nil {
				return nil, err
			}
			if amount > 0 {
				if err := tx.Transfer(ctx, escrow, caller, amount); err != nil {
					return nil, err
				}
			}
			p.MarkClaimed()
			if err := tx.UpdatePosition(ctx, p); err != nil {
				return nil, err
			}
			paid = amount

			attrs := marketAttrs(req.Market)
			attrs["user"] = caller.Hex()
			attrs["payout"] = strconv.FormatUint(amount, 10)
			return []domain.Event{e.event(domain.EventClaimPaid, caller, now, attrs)}, nil
		}
	})
	return paid, err
}

// positionKeys declares the market, the caller's position and both ledger
// accounts a stake or claim moves funds between.
func positionKeys(k domain.MarketKey) recordKeys {
	return func(caller domain.Identity) []string {
		return []string{
			k.RecordKey(),
			domain.PositionKey{Market: k, User: caller}.RecordKey(),
			domain.LedgerRecordKey(caller),
			domain.LedgerRecordKey(k.Escrow()),
		}
	}
}

func marketAttrs(k domain.MarketKey) map[string]string {
	return map[string]string{"game_id": k.GameID.String(), "kind": strconv.Itoa(int(k.Kind))}
}
