package domain

import (
	"bytes"
	"encoding/binary"
)

// Op names a state-changing operation.
type Op string

const (
	OpInitRegistry       Op = "registry_init"
	OpAddPublisher       Op = "registry_add_publisher"
	OpRemovePublisher    Op = "registry_remove_publisher"
	OpSetFreshnessWindow Op = "registry_set_freshness_window"
	OpInitFeed           Op = "feed_init"
	OpSubmitUpdate       Op = "feed_submit_update"
	OpInitMarket         Op = "market_init"
	OpPlacePosition      Op = "market_place_position"
	OpLockMarket         Op = "market_lock"
	OpResolveMarket      Op = "market_resolve"
	OpVoidMarket         Op = "market_void"
	OpClaim              Op = "market_claim"
)

// Request is an operation's arguments. SigningBytes is the deterministic
// encoding a caller signs; it excludes the caller and nonce, which the
// authenticator binds separately.
type Request interface {
	Op() Op
	SigningBytes() []byte
}

// InitRegistryRequest creates the registry; the caller becomes authority.
type InitRegistryRequest struct {
	Treasury Identity `json:"treasury"`
}

func (InitRegistryRequest) Op() Op { return OpInitRegistry }

func (r InitRegistryRequest) SigningBytes() []byte {
	return encode(r.Treasury[:])
}

// AddPublisherRequest authorizes a publisher.
type AddPublisherRequest struct {
	Publisher Identity `json:"publisher"`
}

func (AddPublisherRequest) Op() Op { return OpAddPublisher }

func (r AddPublisherRequest) SigningBytes() []byte {
	return encode(r.Publisher[:])
}

// RemovePublisherRequest revokes a publisher.
type RemovePublisherRequest struct {
	Publisher Identity `json:"publisher"`
}

func (RemovePublisherRequest) Op() Op { return OpRemovePublisher }

func (r RemovePublisherRequest) SigningBytes() []byte {
	return encode(r.Publisher[:])
}

// SetFreshnessWindowRequest replaces the submission freshness window.
type SetFreshnessWindowRequest struct {
	Seconds int64 `json:"seconds"`
}

func (SetFreshnessWindowRequest) Op() Op { return OpSetFreshnessWindow }

func (r SetFreshnessWindowRequest) SigningBytes() []byte {
	return encode(r.Seconds)
}

// InitFeedRequest creates a zeroed feed.
type InitFeedRequest struct {
	Feed FeedKey `json:"feed"`
}

func (InitFeedRequest) Op() Op { return OpInitFeed }

func (r InitFeedRequest) SigningBytes() []byte {
	return encode(r.Feed.League[:], r.Feed.GameID[:])
}

// SubmitUpdateRequest publishes a result update to a feed.
type SubmitUpdateRequest struct {
	Feed   FeedKey    `json:"feed"`
	Update FeedUpdate `json:"update"`
}

func (SubmitUpdateRequest) Op() Op { return OpSubmitUpdate }

func (r SubmitUpdateRequest) SigningBytes() []byte {
	return encode(r.Feed.League[:], r.Feed.GameID[:], r.Update.PayloadHash[:], r.Update.CID[:], r.Update.Timestamp)
}

// InitMarketRequest opens a market against a settlement feed.
type InitMarketRequest struct {
	Market    MarketKey `json:"market"`
	CloseTime int64     `json:"close_time"`
	Feed      FeedKey   `json:"settlement_feed"`
	Treasury  Identity  `json:"treasury"`
}

func (InitMarketRequest) Op() Op { return OpInitMarket }

func (r InitMarketRequest) SigningBytes() []byte {
	return encode(r.Market.GameID[:], r.Market.Kind, r.CloseTime, r.Feed.League[:], r.Feed.GameID[:], r.Treasury[:])
}

// PlacePositionRequest stakes on one side of a market.
type PlacePositionRequest struct {
	Market MarketKey `json:"market"`
	Side   Side      `json:"side"`
	Amount uint64    `json:"amount"`
}

func (PlacePositionRequest) Op() Op { return OpPlacePosition }

func (r PlacePositionRequest) SigningBytes() []byte {
	return encode(r.Market.GameID[:], r.Market.Kind, uint8(r.Side), r.Amount)
}

// LockMarketRequest closes a market to new stakes.
type LockMarketRequest struct {
	Market MarketKey `json:"market"`
}

func (LockMarketRequest) Op() Op { return OpLockMarket }

func (r LockMarketRequest) SigningBytes() []byte {
	return encode(r.Market.GameID[:], r.Market.Kind)
}

// ResolveMarketRequest fixes a locked market's outcome.
type ResolveMarketRequest struct {
	Market  MarketKey `json:"market"`
	Outcome Outcome   `json:"outcome"`
}

func (ResolveMarketRequest) Op() Op { return OpResolveMarket }

func (r ResolveMarketRequest) SigningBytes() []byte {
	return encode(r.Market.GameID[:], r.Market.Kind, uint8(r.Outcome))
}

// VoidMarketRequest cancels an unresolved market.
type VoidMarketRequest struct {
	Market MarketKey `json:"market"`
}

func (VoidMarketRequest) Op() Op { return OpVoidMarket }

func (r VoidMarketRequest) SigningBytes() []byte {
	return encode(r.Market.GameID[:], r.Market.Kind)
}

// ClaimRequest collects the caller's payout.
type ClaimRequest struct {
	Market MarketKey `json:"market"`
}

func (ClaimRequest) Op() Op { return OpClaim }

func (r ClaimRequest) SigningBytes() []byte {
	return encode(r.Market.GameID[:], r.Market.Kind)
}

// encode concatenates byte slices and big-endian fixed-width integers.
func encode(fields ...any) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		switch v := f.(type) {
		case []byte:
			buf.Write(v)
		default:
			_ = binary.Write(&buf, binary.BigEndian, v)
		}
	}
	return buf.Bytes()
}
