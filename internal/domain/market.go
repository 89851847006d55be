package domain

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MinimumStake is the smallest accepted position amount, in lamports.
	MinimumStake uint64 = 1_000_000

	// ResolutionStaleness is the default bound, in seconds, between the
	// resolution time and the settlement feed's latest timestamp.
	ResolutionStaleness int64 = 7200
)

// MarketState is the lifecycle state of a market.
type MarketState uint8

const (
	MarketOpen MarketState = iota
	MarketLocked
	MarketResolved
	MarketVoid
)

func (s MarketState) String() string {
	switch s {
	case MarketOpen:
		return "open"
	case MarketLocked:
		return "locked"
	case MarketResolved:
		return "resolved"
	case MarketVoid:
		return "void"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Outcome is a market's resolved result.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeHome
	OutcomeAway
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeHome:
		return "home"
	case OutcomeAway:
		return "away"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Side is the outcome a position backs.
type Side uint8

const (
	SideHome Side = 1
	SideAway Side = 2
)

// Valid reports whether s is Home or Away.
func (s Side) Valid() bool { return s == SideHome || s == SideAway }

func (s Side) String() string {
	switch s {
	case SideHome:
		return "home"
	case SideAway:
		return "away"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// MarketKey addresses one market per (game, kind) pair.
type MarketKey struct {
	GameID GameID `json:"game_id"`
	Kind   uint8  `json:"kind"`
}

// RecordKey is the lock/storage key of the market.
func (k MarketKey) RecordKey() string {
	return fmt.Sprintf("market:%s:%d", k.GameID, k.Kind)
}

func (k MarketKey) String() string { return fmt.Sprintf("%s/%d", k.GameID, k.Kind) }

// Escrow returns the ledger account that holds the market's stakes. It is
// derived from the key alone, so every node computes the same account.
func (k MarketKey) Escrow() Identity {
	h := crypto.Keccak256([]byte("band4band/escrow"), k.GameID[:], []byte{k.Kind})
	var id Identity
	copy(id[:], h[12:])
	return id
}

// Market is a binary Home/Away market settled against one oracle feed.
type Market struct {
	Key            MarketKey
	State          MarketState
	Outcome        Outcome
	CloseTime      int64
	SettlementFeed FeedKey
	Treasury       Identity
	TotalHomeStake uint64
	TotalAwayStake uint64
}

// NewMarket returns an Open market with zero totals.
func NewMarket(key MarketKey, closeTime int64, feed FeedKey, treasury Identity) Market {
	return Market{
		Key:            key,
		State:          MarketOpen,
		Outcome:        OutcomePending,
		CloseTime:      closeTime,
		SettlementFeed: feed,
		Treasury:       treasury,
	}
}

// Escrow is the market's stake-holding account.
func (m Market) Escrow() Identity { return m.Key.Escrow() }

// TotalPool is the sum of both sides' stakes. AddStake guarantees it fits.
func (m Market) TotalPool() uint64 { return m.TotalHomeStake + m.TotalAwayStake }

// WinningPool is the total staked on the resolved outcome, or zero while the
// market is unresolved.
func (m Market) WinningPool() uint64 {
	switch m.Outcome {
	case OutcomeHome:
		return m.TotalHomeStake
	case OutcomeAway:
		return m.TotalAwayStake
	default:
		return 0
	}
}

// CheckStake validates a new stake at now without mutating the market.
func (m Market) CheckStake(side Side, amount uint64, now int64) error {
	if m.State != MarketOpen {
		return ErrMarketNotOpen
	}
	if now >= m.CloseTime {
		return ErrMarketClosed
	}
	if !side.Valid() {
		return ErrInvalidSide
	}
	if amount < MinimumStake {
		return ErrInsufficientStake
	}
	return m.checkTotals(side, amount)
}

// AddStake adds amount to side's total.
func (m *Market) AddStake(side Side, amount uint64) error {
	if err := m.checkTotals(side, amount); err != nil {
		return err
	}
	if side == SideHome {
		m.TotalHomeStake += amount
	} else {
		m.TotalAwayStake += amount
	}
	return nil
}

func (m Market) checkTotals(side Side, amount uint64) error {
	sideTotal := m.TotalAwayStake
	if side == SideHome {
		sideTotal = m.TotalHomeStake
	}
	if amount > math.MaxUint64-sideTotal {
		return ErrMathOverflow
	}
	if amount > math.MaxUint64-m.TotalPool() {
		return ErrMathOverflow
	}
	return nil
}

// Lock moves an Open market to Locked.
func (m *Market) Lock() error {
	if m.State != MarketOpen {
		return ErrMarketNotOpen
	}
	m.State = MarketLocked
	return nil
}

// Resolve settles a Locked market against feed. The feed must be the
// market's settlement feed and its latest timestamp must lie within
// staleness seconds of now.
func (m *Market) Resolve(outcome Outcome, feed OracleFeed, now, staleness int64) error {
	if m.State != MarketLocked {
		return ErrMarketNotLocked
	}
	if outcome != OutcomeHome && outcome != OutcomeAway {
		return ErrInvalidOutcome
	}
	if feed.Key != m.SettlementFeed {
		return ErrFeedMismatch
	}
	if !feed.FreshAt(now, staleness) {
		return ErrStaleOracleData
	}
	m.State = MarketResolved
	m.Outcome = outcome
	return nil
}

// Void moves an Open or Locked market to Void. Stakes stay in escrow.
func (m *Market) Void() error {
	if m.State != MarketOpen && m.State != MarketLocked {
		return ErrMarketNotOpen
	}
	m.State = MarketVoid
	return nil
}
