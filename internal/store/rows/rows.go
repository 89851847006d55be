// Package rows converts domain records to and from the flat column values
// shared by the SQL record stores. Unsigned 64-bit amounts are carried as
// decimal strings so no backend has to squeeze them into a signed integer.
package rows

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// Registry is the column form of domain.Registry.
type Registry struct {
	Authority       string
	Treasury        string
	FreshnessWindow int64
	Publishers      string // JSON array of hex addresses, in list order
}

// FromRegistry flattens r.
func FromRegistry(r domain.Registry) (Registry, error) {
	pubs := make([]string, 0, r.PublisherCount)
	for _, p := range r.PublisherList() {
		pubs = append(pubs, p.Hex())
	}
	raw, err := json.Marshal(pubs)
	if err != nil {
		return Registry{}, fmt.Errorf("rows: marshal publishers: %w", err)
	}
	return Registry{
		Authority:       r.Authority.Hex(),
		Treasury:        r.Treasury.Hex(),
		FreshnessWindow: r.FreshnessWindow,
		Publishers:      string(raw),
	}, nil
}

// Domain rebuilds the registry.
func (row Registry) Domain() (domain.Registry, error) {
	var pubs []string
	if err := json.Unmarshal([]byte(row.Publishers), &pubs); err != nil {
		return domain.Registry{}, fmt.Errorf("rows: unmarshal publishers: %w", err)
	}
	if len(pubs) > domain.PublisherCapacity {
		return domain.Registry{}, fmt.Errorf("rows: %d publishers exceeds capacity", len(pubs))
	}
	r := domain.Registry{FreshnessWindow: row.FreshnessWindow}
	var err error
	if r.Authority, err = domain.ParseIdentity(row.Authority); err != nil {
		return domain.Registry{}, err
	}
	if r.Treasury, err = domain.ParseIdentity(row.Treasury); err != nil {
		return domain.Registry{}, err
	}
	for i, p := range pubs {
		if r.Publishers[i], err = domain.ParseIdentity(p); err != nil {
			return domain.Registry{}, err
		}
	}
	r.PublisherCount = len(pubs)
	return r, nil
}

// Feed is the column form of domain.OracleFeed.
type Feed struct {
	League      string
	GameID      string
	LatestHash  string
	LatestTS    int64
	CID         string
	Publisher   string
	Ring        string // JSON ring body
	UpdateCount string
}

type ringBody struct {
	Entries []domain.FeedEntry `json:"entries"`
	Index   int                `json:"index"`
}

// FromFeed flattens f.
func FromFeed(f domain.OracleFeed) (Feed, error) {
	raw, err := json.Marshal(ringBody{Entries: f.Ring.Entries[:], Index: f.Ring.Index})
	if err != nil {
		return Feed{}, fmt.Errorf("rows: marshal ring: %w", err)
	}
	return Feed{
		League:      f.Key.League.String(),
		GameID:      f.Key.GameID.String(),
		LatestHash:  f.LatestHash.String(),
		LatestTS:    f.LatestTS,
		CID:         f.CID.String(),
		Publisher:   f.Publisher.Hex(),
		Ring:        string(raw),
		UpdateCount: U64(f.UpdateCount),
	}, nil
}

// Domain rebuilds the feed.
func (row Feed) Domain() (domain.OracleFeed, error) {
	key, err := domain.NewFeedKey(row.League, row.GameID)
	if err != nil {
		return domain.OracleFeed{}, err
	}
	f := domain.NewOracleFeed(key)
	f.LatestTS = row.LatestTS
	if f.LatestHash, err = domain.ParseHash(row.LatestHash); err != nil {
		return domain.OracleFeed{}, err
	}
	if f.CID, err = domain.NewCID(row.CID); err != nil {
		return domain.OracleFeed{}, err
	}
	if f.Publisher, err = domain.ParseIdentity(row.Publisher); err != nil {
		return domain.OracleFeed{}, err
	}
	if f.UpdateCount, err = ParseU64(row.UpdateCount); err != nil {
		return domain.OracleFeed{}, err
	}

	var body ringBody
	if err := json.Unmarshal([]byte(row.Ring), &body); err != nil {
		return domain.OracleFeed{}, fmt.Errorf("rows: unmarshal ring: %w", err)
	}
	if len(body.Entries) != domain.RingCapacity || body.Index < 0 || body.Index >= domain.RingCapacity {
		return domain.OracleFeed{}, fmt.Errorf("rows: malformed ring for %s", key)
	}
	copy(f.Ring.Entries[:], body.Entries)
	f.Ring.Index = body.Index
	return f, nil
}

// Market is the column form of domain.Market.
type Market struct {
	GameID         string
	Kind           int
	State          int
	Outcome        int
	CloseTime      int64
	FeedLeague     string
	FeedGameID     string
	Treasury       string
	TotalHomeStake string
	TotalAwayStake string
}

// FromMarket flattens m.
func FromMarket(m domain.Market) Market {
	return Market{
		GameID:         m.Key.GameID.String(),
		Kind:           int(m.Key.Kind),
		State:          int(m.State),
		Outcome:        int(m.Outcome),
		CloseTime:      m.CloseTime,
		FeedLeague:     m.SettlementFeed.League.String(),
		FeedGameID:     m.SettlementFeed.GameID.String(),
		Treasury:       m.Treasury.Hex(),
		TotalHomeStake: U64(m.TotalHomeStake),
		TotalAwayStake: U64(m.TotalAwayStake),
	}
}

// Domain rebuilds the market.
func (row Market) Domain() (domain.Market, error) {
	key, err := MarketKey(row.GameID, row.Kind)
	if err != nil {
		return domain.Market{}, err
	}
	feed, err := domain.NewFeedKey(row.FeedLeague, row.FeedGameID)
	if err != nil {
		return domain.Market{}, err
	}
	treasury, err := domain.ParseIdentity(row.Treasury)
	if err != nil {
		return domain.Market{}, err
	}
	m := domain.NewMarket(key, row.CloseTime, feed, treasury)
	m.State = domain.MarketState(row.State)
	m.Outcome = domain.Outcome(row.Outcome)
	if m.TotalHomeStake, err = ParseU64(row.TotalHomeStake); err != nil {
		return domain.Market{}, err
	}
	if m.TotalAwayStake, err = ParseU64(row.TotalAwayStake); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// Position is the column form of domain.Position.
type Position struct {
	GameID  string
	Kind    int
	Owner   string
	Side    int
	Stake   string
	Claimed bool
}

// FromPosition flattens p.
func FromPosition(p domain.Position) Position {
	return Position{
		GameID:  p.Key.Market.GameID.String(),
		Kind:    int(p.Key.Market.Kind),
		Owner:   p.Key.User.Hex(),
		Side:    int(p.Side),
		Stake:   U64(p.Stake),
		Claimed: p.Claimed,
	}
}

// Domain rebuilds the position.
func (row Position) Domain() (domain.Position, error) {
	mk, err := MarketKey(row.GameID, row.Kind)
	if err != nil {
		return domain.Position{}, err
	}
	owner, err := domain.ParseIdentity(row.Owner)
	if err != nil {
		return domain.Position{}, err
	}
	p := domain.NewPosition(domain.PositionKey{Market: mk, User: owner})
	p.Side = domain.Side(row.Side)
	p.Claimed = row.Claimed
	if p.Stake, err = ParseU64(row.Stake); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// MarketKey rebuilds a market key from its columns.
func MarketKey(gameID string, kind int) (domain.MarketKey, error) {
	g, err := domain.NewGameID(gameID)
	if err != nil {
		return domain.MarketKey{}, err
	}
	if kind < 0 || kind > 255 {
		return domain.MarketKey{}, fmt.Errorf("rows: market kind %d out of range", kind)
	}
	return domain.MarketKey{GameID: g, Kind: uint8(kind)}, nil
}

// U64 renders an amount column.
func U64(v uint64) string { return strconv.FormatUint(v, 10) }

// ParseU64 parses an amount column. An empty column reads as zero.
func ParseU64(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rows: amount %q: %w", s, err)
	}
	return v, nil
}
