package domain

import "fmt"

// RingCapacity is the number of recent updates a feed retains.
const RingCapacity = 16

// FeedKey addresses one feed per (league, game) pair.
type FeedKey struct {
	League League `json:"league"`
	GameID GameID `json:"game_id"`
}

// NewFeedKey builds a FeedKey from plain strings.
func NewFeedKey(league, gameID string) (FeedKey, error) {
	l, err := NewLeague(league)
	if err != nil {
		return FeedKey{}, err
	}
	g, err := NewGameID(gameID)
	if err != nil {
		return FeedKey{}, err
	}
	return FeedKey{League: l, GameID: g}, nil
}

// RecordKey is the lock/storage key of the feed.
func (k FeedKey) RecordKey() string {
	return fmt.Sprintf("feed:%s:%s", k.League, k.GameID)
}

func (k FeedKey) String() string { return k.League.String() + "/" + k.GameID.String() }

// FeedEntry is one slot of the update history.
type FeedEntry struct {
	Timestamp int64 `json:"ts"`
	Hash      Hash  `json:"hash"`
}

// FeedRing is a fixed-capacity circular buffer of recent updates. Index is
// the next slot to write and wraps modulo RingCapacity; older entries are
// overwritten silently.
type FeedRing struct {
	Entries [RingCapacity]FeedEntry
	Index   int
}

// Push writes e at the current index and advances it.
func (r *FeedRing) Push(e FeedEntry) {
	r.Entries[r.Index] = e
	r.Index = (r.Index + 1) % RingCapacity
}

// Recent returns up to the last n written entries, oldest first. total is
// the number of entries ever pushed; it bounds the result while the ring
// has not yet wrapped.
func (r FeedRing) Recent(total uint64) []FeedEntry {
	n := RingCapacity
	if total < RingCapacity {
		n = int(total)
	}
	out := make([]FeedEntry, 0, n)
	start := (r.Index - n + RingCapacity) % RingCapacity
	for i := 0; i < n; i++ {
		out = append(out, r.Entries[(start+i)%RingCapacity])
	}
	return out
}

// FeedUpdate is a publisher's signed result submission.
type FeedUpdate struct {
	PayloadHash Hash  `json:"payload_hash"`
	CID         CID   `json:"ipfs_cid"`
	Timestamp   int64 `json:"ts"`
}

// OracleFeed is the authoritative per-game result record.
type OracleFeed struct {
	Key         FeedKey
	LatestHash  Hash
	LatestTS    int64
	CID         CID
	Publisher   Identity
	Ring        FeedRing
	UpdateCount uint64
}

// NewOracleFeed returns a zeroed feed for key.
func NewOracleFeed(key FeedKey) OracleFeed {
	return OracleFeed{Key: key}
}

// ApplyUpdate validates u against the registry as seen at now and, only if
// every check passes, overwrites the latest fields and appends to the ring.
func (f *OracleFeed) ApplyUpdate(reg Registry, caller Identity, u FeedUpdate, now int64) error {
	if !reg.IsPublisher(caller) {
		return ErrUnauthorizedPublisher
	}
	if !reg.IsFresh(now, u.Timestamp) {
		return ErrStaleData
	}

	f.LatestHash = u.PayloadHash
	f.LatestTS = u.Timestamp
	f.CID = u.CID
	f.Publisher = caller
	f.Ring.Push(FeedEntry{Timestamp: u.Timestamp, Hash: u.PayloadHash})
	f.UpdateCount++
	return nil
}

// History returns the retained updates, oldest first.
func (f OracleFeed) History() []FeedEntry {
	return f.Ring.Recent(f.UpdateCount)
}

// FreshAt reports whether the latest update is within bound seconds of now.
// A feed that has never been updated is never fresh.
func (f OracleFeed) FreshAt(now, bound int64) bool {
	if f.UpdateCount == 0 {
		return false
	}
	return withinBound(now, f.LatestTS, bound)
}
