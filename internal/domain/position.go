package domain

import "fmt"

// PositionKey addresses one position per (market, user) pair.
type PositionKey struct {
	Market MarketKey `json:"market"`
	User   Identity  `json:"user"`
}

// RecordKey is the lock/storage key of the position.
func (k PositionKey) RecordKey() string {
	return fmt.Sprintf("position:%s:%d:%s", k.Market.GameID, k.Market.Kind, k.User.Hex())
}

// Position is one user's cumulative stake in one market. Its side is fixed
// by the first stake.
type Position struct {
	Key     PositionKey
	Side    Side
	Stake   uint64
	Claimed bool
}

// NewPosition returns an empty position for key.
func NewPosition(key PositionKey) Position {
	return Position{Key: key}
}

// CheckAdd validates adding amount on side.
func (p Position) CheckAdd(side Side, amount uint64) error {
	if p.Stake > 0 && p.Side != side {
		return ErrPositionSideMismatch
	}
	if amount > ^uint64(0)-p.Stake {
		return ErrMathOverflow
	}
	return nil
}

// Add accumulates amount on side.
func (p *Position) Add(side Side, amount uint64) error {
	if err := p.CheckAdd(side, amount); err != nil {
		return err
	}
	p.Side = side
	p.Stake += amount
	return nil
}

// CheckClaim validates a claim of p against m.
func (p Position) CheckClaim(m Market) error {
	if m.State != MarketResolved {
		return ErrMarketNotResolved
	}
	if p.Claimed {
		return ErrAlreadyClaimed
	}
	if Outcome(p.Side) != m.Outcome {
		return ErrLosingPosition
	}
	return nil
}

// MarkClaimed records a successful claim. It is never reset.
func (p *Position) MarkClaimed() { p.Claimed = true }
