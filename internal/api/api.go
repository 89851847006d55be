// Package api defines the JSON bodies exchanged between the settlement node's
// HTTP API and its clients.
package api

import (
	"github.com/alanyoungcy/band4band/internal/domain"
)

// Envelope carries one state-changing request and the credentials that
// authorize it. The credential fields sit at the top level of the body.
type Envelope[T any] struct {
	domain.Credentials
	Request T `json:"request"`
}

// ErrorBody is returned with every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// RegistryView is the public shape of the publisher registry.
type RegistryView struct {
	Authority       domain.Identity   `json:"authority"`
	Treasury        domain.Identity   `json:"treasury"`
	FreshnessWindow int64             `json:"freshness_window"`
	Publishers      []domain.Identity `json:"publishers"`
}

// NewRegistryView builds the view of r.
func NewRegistryView(r domain.Registry) RegistryView {
	return RegistryView{
		Authority:       r.Authority,
		Treasury:        r.Treasury,
		FreshnessWindow: r.FreshnessWindow,
		Publishers:      r.PublisherList(),
	}
}

// FeedView is the public shape of an oracle feed, history oldest first.
type FeedView struct {
	Feed        domain.FeedKey     `json:"feed"`
	LatestHash  domain.Hash        `json:"latest_hash"`
	LatestTS    int64              `json:"latest_ts"`
	CID         domain.CID         `json:"ipfs_cid"`
	Publisher   domain.Identity    `json:"publisher"`
	UpdateCount uint64             `json:"update_count"`
	History     []domain.FeedEntry `json:"history"`
}

// NewFeedView builds the view of f.
func NewFeedView(f domain.OracleFeed) FeedView {
	hist := f.History()
	if hist == nil {
		hist = []domain.FeedEntry{}
	}
	return FeedView{
		Feed:        f.Key,
		LatestHash:  f.LatestHash,
		LatestTS:    f.LatestTS,
		CID:         f.CID,
		Publisher:   f.Publisher,
		UpdateCount: f.UpdateCount,
		History:     hist,
	}
}

// MarketView is the public shape of a market.
type MarketView struct {
	Market         domain.MarketKey `json:"market"`
	State          string           `json:"state"`
	Outcome        string           `json:"outcome"`
	CloseTime      int64            `json:"close_time"`
	SettlementFeed domain.FeedKey   `json:"settlement_feed"`
	Treasury       domain.Identity  `json:"treasury"`
	Escrow         domain.Identity  `json:"escrow"`
	TotalHomeStake uint64           `json:"total_home_stake"`
	TotalAwayStake uint64           `json:"total_away_stake"`
	TotalPool      string           `json:"total_pool_sol"`
}

// NewMarketView builds the view of m.
func NewMarketView(m domain.Market) MarketView {
	return MarketView{
		Market:         m.Key,
		State:          m.State.String(),
		Outcome:        m.Outcome.String(),
		CloseTime:      m.CloseTime,
		SettlementFeed: m.SettlementFeed,
		Treasury:       m.Treasury,
		Escrow:         m.Escrow(),
		TotalHomeStake: m.TotalHomeStake,
		TotalAwayStake: m.TotalAwayStake,
		TotalPool:      domain.FormatSOL(m.TotalPool()),
	}
}

// PositionView is the public shape of a position. Payout is the amount a
// claim pays now, zero unless the position is an unclaimed winner.
type PositionView struct {
	Market  domain.MarketKey `json:"market"`
	User    domain.Identity  `json:"user"`
	Side    string           `json:"side"`
	Stake   uint64           `json:"stake"`
	Claimed bool             `json:"claimed"`
	Payout  uint64           `json:"payout"`
}

// NewPositionView builds the view of p within m.
func NewPositionView(m domain.Market, p domain.Position) PositionView {
	v := PositionView{
		Market:  p.Key.Market,
		User:    p.Key.User,
		Side:    p.Side.String(),
		Stake:   p.Stake,
		Claimed: p.Claimed,
	}
	if p.CheckClaim(m) == nil {
		v.Payout, _ = domain.Payout(m, p)
	}
	return v
}

// ClaimResult reports a paid claim.
type ClaimResult struct {
	Market domain.MarketKey `json:"market"`
	User   domain.Identity  `json:"user"`
	Payout uint64           `json:"payout"`
	SOL    string           `json:"payout_sol"`
}

// BalanceView is an account's ledger balance.
type BalanceView struct {
	Account  domain.Identity `json:"account"`
	Lamports uint64          `json:"lamports"`
	SOL      string          `json:"sol"`
}

// NewBalanceView builds the view of a balance.
func NewBalanceView(account domain.Identity, lamports uint64) BalanceView {
	return BalanceView{Account: account, Lamports: lamports, SOL: domain.FormatSOL(lamports)}
}

// FaucetRequest credits a development account. Give either Amount in
// lamports or SOL as a decimal string such as "1.5".
type FaucetRequest struct {
	Account domain.Identity `json:"account"`
	Amount  uint64          `json:"amount,omitempty"`
	SOL     string          `json:"sol,omitempty"`
}

// OK is the body of operations that return nothing else.
type OK struct {
	Op     domain.Op       `json:"op"`
	Caller domain.Identity `json:"caller"`
}

// PinResult names a pinned payload.
type PinResult struct {
	Hash domain.Hash `json:"payload_hash"`
	CID  string      `json:"ipfs_cid"`
}
