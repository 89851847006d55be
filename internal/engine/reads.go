package engine

import (
	"context"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// Registry returns the committed registry.
func (e *Engine) Registry(ctx context.Context) (domain.Registry, error) {
	var out domain.Registry
	err := e.view(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		out, err = tx.Registry(ctx)
		return err
	})
	return out, err
}

// Feed returns the committed feed for key.
func (e *Engine) Feed(ctx context.Context, key domain.FeedKey) (domain.OracleFeed, error) {
	var out domain.OracleFeed
	err := e.view(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		out, err = tx.Feed(ctx, key)
		return err
	})
	return out, err
}

// Market returns the committed market for key.
func (e *Engine) Market(ctx context.Context, key domain.MarketKey) (domain.Market, error) {
	var out domain.Market
	err := e.view(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		out, err = tx.Market(ctx, key)
		return err
	})
	return out, err
}

// Position returns the committed position for key.
func (e *Engine) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	var out domain.Position
	err := e.view(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		out, err = tx.Position(ctx, key)
		return err
	})
	return out, err
}

// Balance returns an account's committed ledger balance.
func (e *Engine) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	var out uint64
	err := e.view(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		out, err = tx.Balance(ctx, account)
		return err
	})
	return out, err
}
