package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Fixed widths of the on-ledger record fields.
const (
	LeagueLen = 8
	GameIDLen = 32
	HashLen   = 32
	CIDLen    = 64
)

// Identity is a 20-byte account address. Callers, publishers, the registry
// authority, treasuries and market escrow accounts are all identities.
type Identity = common.Address

// ParseIdentity parses a 0x-prefixed hex account address.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Identity{}, fmt.Errorf("%w: identity %q", ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}

// League is a zero-padded league code such as "NFL".
type League [LeagueLen]byte

// NewLeague pads s to the fixed league width. It rejects empty values and
// values longer than LeagueLen bytes.
func NewLeague(s string) (League, error) {
	var l League
	if err := padInto(l[:], s, "league"); err != nil {
		return League{}, err
	}
	return l, nil
}

func (l League) String() string { return trimPad(l[:]) }

// MarshalText implements encoding.TextMarshaler.
func (l League) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *League) UnmarshalText(text []byte) error {
	v, err := NewLeague(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// GameID is a zero-padded game identifier such as "2025-NE-NYJ-001".
type GameID [GameIDLen]byte

// NewGameID pads s to the fixed game id width.
func NewGameID(s string) (GameID, error) {
	var g GameID
	if err := padInto(g[:], s, "game_id"); err != nil {
		return GameID{}, err
	}
	return g, nil
}

func (g GameID) String() string { return trimPad(g[:]) }

// MarshalText implements encoding.TextMarshaler.
func (g GameID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GameID) UnmarshalText(text []byte) error {
	v, err := NewGameID(string(text))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Hash is a 32-byte payload digest.
type Hash [HashLen]byte

// ParseHash decodes a hex digest with or without 0x prefix.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return Hash{}, fmt.Errorf("%w: hash: %v", ErrInvalidInput, err)
	}
	if len(raw) != HashLen {
		return Hash{}, fmt.Errorf("%w: hash must be %d bytes, got %d", ErrInvalidInput, HashLen, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// IsZero reports whether no digest has been recorded.
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	v, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// CID is a zero-padded content identifier of the pinned payload.
type CID [CIDLen]byte

// NewCID pads s to the fixed CID width. An empty CID is allowed.
func NewCID(s string) (CID, error) {
	var c CID
	if len(s) > CIDLen {
		return CID{}, fmt.Errorf("%w: cid longer than %d bytes", ErrInvalidInput, CIDLen)
	}
	copy(c[:], s)
	return c, nil
}

func (c CID) String() string { return trimPad(c[:]) }

// MarshalText implements encoding.TextMarshaler.
func (c CID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CID) UnmarshalText(text []byte) error {
	v, err := NewCID(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func padInto(dst []byte, s, field string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidInput, field)
	}
	if len(s) > len(dst) {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidInput, field, len(dst))
	}
	copy(dst, s)
	return nil
}

func trimPad(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
