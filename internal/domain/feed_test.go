package domain_test

import (
	"testing"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const now = int64(1_700_000_000)

func mustFeedKey(t *testing.T, league, game string) domain.FeedKey {
	t.Helper()
	k, err := domain.NewFeedKey(league, game)
	require.NoError(t, err)
	return k
}

func hashOf(b byte) domain.Hash {
	var h domain.Hash
	h[0] = b
	h[31] = b
	return h
}

func registryWithPublisher(pub domain.Identity) domain.Registry {
	reg := domain.NewRegistry(addr(1), addr(2), 0)
	_ = reg.AddPublisher(addr(1), pub)
	return reg
}

func TestOracleFeed_ApplyUpdate(t *testing.T) {
	reg := registryWithPublisher(addr(10))
	feed := domain.NewOracleFeed(mustFeedKey(t, "NFL", "2025-NE-NYJ-001"))
	cid, err := domain.NewCID("bafkreiexample")
	require.NoError(t, err)

	u := domain.FeedUpdate{PayloadHash: hashOf(7), CID: cid, Timestamp: now - 10}
	require.NoError(t, feed.ApplyUpdate(reg, addr(10), u, now))

	assert.Equal(t, hashOf(7), feed.LatestHash)
	assert.Equal(t, now-10, feed.LatestTS)
	assert.Equal(t, "bafkreiexample", feed.CID.String())
	assert.Equal(t, addr(10), feed.Publisher)
	assert.Equal(t, 1, feed.Ring.Index)
	assert.Equal(t, domain.FeedEntry{Timestamp: now - 10, Hash: hashOf(7)}, feed.Ring.Entries[0])
	assert.Equal(t, uint64(1), feed.UpdateCount)
}

func TestOracleFeed_RejectsWithoutMutation(t *testing.T) {
	reg := registryWithPublisher(addr(10))
	feed := domain.NewOracleFeed(mustFeedKey(t, "NBA", "g1"))
	before := feed

	err := feed.ApplyUpdate(reg, addr(11), domain.FeedUpdate{PayloadHash: hashOf(1), Timestamp: now}, now)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedPublisher)
	assert.Equal(t, before, feed)

	err = feed.ApplyUpdate(reg, addr(10), domain.FeedUpdate{PayloadHash: hashOf(1), Timestamp: now - 3601}, now)
	assert.ErrorIs(t, err, domain.ErrStaleData)
	assert.Equal(t, before, feed)

	// Unauthorized is reported before staleness.
	err = feed.ApplyUpdate(reg, addr(11), domain.FeedUpdate{Timestamp: 0}, now)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedPublisher)
}

func TestOracleFeed_FreshnessBoundary(t *testing.T) {
	reg := registryWithPublisher(addr(10))
	feed := domain.NewOracleFeed(mustFeedKey(t, "NBA", "g1"))

	require.NoError(t, feed.ApplyUpdate(reg, addr(10), domain.FeedUpdate{Timestamp: now - 3600}, now))
	require.NoError(t, feed.ApplyUpdate(reg, addr(10), domain.FeedUpdate{Timestamp: now + 3600}, now))
	assert.ErrorIs(t, feed.ApplyUpdate(reg, addr(10), domain.FeedUpdate{Timestamp: now + 3601}, now), domain.ErrStaleData)
}

func TestOracleFeed_RingWraps(t *testing.T) {
	reg := registryWithPublisher(addr(10))
	feed := domain.NewOracleFeed(mustFeedKey(t, "NFL", "g2"))

	for i := 1; i <= domain.RingCapacity+1; i++ {
		u := domain.FeedUpdate{PayloadHash: hashOf(byte(i)), Timestamp: now - int64(100-i)}
		require.NoError(t, feed.ApplyUpdate(reg, addr(10), u, now))
	}

	assert.Equal(t, 1, feed.Ring.Index)
	assert.Equal(t, hashOf(17), feed.Ring.Entries[0].Hash)
	assert.Equal(t, hashOf(2), feed.Ring.Entries[1].Hash)
	assert.Equal(t, hashOf(17), feed.LatestHash)

	hist := feed.History()
	require.Len(t, hist, domain.RingCapacity)
	assert.Equal(t, hashOf(2), hist[0].Hash)
	assert.Equal(t, hashOf(17), hist[len(hist)-1].Hash)
}

func TestOracleFeed_HistoryBeforeWrap(t *testing.T) {
	reg := registryWithPublisher(addr(10))
	feed := domain.NewOracleFeed(mustFeedKey(t, "NFL", "g3"))
	assert.Empty(t, feed.History())

	for i := 1; i <= 3; i++ {
		require.NoError(t, feed.ApplyUpdate(reg, addr(10), domain.FeedUpdate{PayloadHash: hashOf(byte(i)), Timestamp: now}, now))
	}
	hist := feed.History()
	require.Len(t, hist, 3)
	assert.Equal(t, hashOf(1), hist[0].Hash)
	assert.Equal(t, hashOf(3), hist[2].Hash)
}

func TestOracleFeed_FreshAt(t *testing.T) {
	feed := domain.NewOracleFeed(mustFeedKey(t, "NFL", "g4"))
	assert.False(t, feed.FreshAt(now, domain.ResolutionStaleness), "never-updated feed")

	feed.LatestTS = now - 7200
	feed.UpdateCount = 1
	assert.True(t, feed.FreshAt(now, domain.ResolutionStaleness))
	assert.False(t, feed.FreshAt(now+1, domain.ResolutionStaleness))
}
