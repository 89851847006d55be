package domain

import "errors"

// Kind groups errors by the class of invariant they protect.
type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthorization
	KindTiming
	KindStateMachine
	KindInput
	KindAccounting
	KindConfiguration
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindTiming:
		return "timing"
	case KindStateMachine:
		return "state_machine"
	case KindInput:
		return "input"
	case KindAccounting:
		return "accounting"
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a named operation failure. Values are compared by identity, so
// callers match them with errors.Is against the exported sentinels.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	// Authorization
	ErrUnauthorized          = newError(KindAuthorization, "Unauthorized", "caller is not the registry authority")
	ErrUnauthorizedPublisher = newError(KindAuthorization, "UnauthorizedPublisher", "caller is not an authorized publisher")
	ErrBadSignature          = newError(KindAuthorization, "BadSignature", "signature does not match caller")
	ErrReplayedNonce         = newError(KindAuthorization, "ReplayedNonce", "nonce already used by caller")
	ErrRequestExpired        = newError(KindAuthorization, "RequestExpired", "request deadline passed or beyond the replay window")

	// Timing / staleness
	ErrStaleData       = newError(KindTiming, "StaleData", "update timestamp outside freshness window")
	ErrStaleOracleData = newError(KindTiming, "StaleOracleData", "settlement feed is too old to resolve")
	ErrMarketClosed    = newError(KindTiming, "MarketClosed", "market close time has passed")

	// State machine
	ErrMarketNotOpen     = newError(KindStateMachine, "MarketNotOpen", "market is not open")
	ErrMarketNotLocked   = newError(KindStateMachine, "MarketNotLocked", "market is not locked")
	ErrMarketNotResolved = newError(KindStateMachine, "MarketNotResolved", "market is not resolved")
	ErrAlreadyClaimed    = newError(KindStateMachine, "AlreadyClaimed", "position already claimed")

	// Input validation
	ErrInvalidInput         = newError(KindInput, "InvalidInput", "invalid input")
	ErrInvalidSide          = newError(KindInput, "InvalidSide", "side must be 1 (home) or 2 (away)")
	ErrInvalidOutcome       = newError(KindInput, "InvalidOutcome", "outcome must be 1 (home) or 2 (away)")
	ErrInsufficientStake    = newError(KindInput, "InsufficientStake", "stake below minimum")
	ErrPositionSideMismatch = newError(KindInput, "PositionSideMismatch", "position already staked on the other side")
	ErrLosingPosition       = newError(KindInput, "LosingPosition", "position is not on the winning side")
	ErrFeedMismatch         = newError(KindInput, "FeedMismatch", "feed is not the market's settlement feed")

	// Accounting
	ErrInsufficientFunds = newError(KindAccounting, "InsufficientFunds", "insufficient ledger balance")
	ErrMathOverflow      = newError(KindAccounting, "MathOverflow", "stake total overflow")

	// Registry capacity and membership
	ErrPublisherListFull      = newError(KindConfiguration, "PublisherListFull", "publisher list is at capacity")
	ErrPublisherAlreadyExists = newError(KindConflict, "PublisherAlreadyExists", "publisher already registered")
	ErrPublisherNotFound      = newError(KindNotFound, "PublisherNotFound", "publisher not registered")

	// Record addressing
	ErrNotFound      = newError(KindNotFound, "NotFound", "not found")
	ErrAlreadyExists = newError(KindConflict, "AlreadyExists", "already exists")
	ErrLockHeld      = newError(KindConflict, "LockHeld", "lock already held")
)

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}
