package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cachemem "github.com/alanyoungcy/band4band/internal/cache/memory"
	"github.com/alanyoungcy/band4band/internal/crypto"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/engine"
	"github.com/alanyoungcy/band4band/internal/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1_700_000_000)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	publisher = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	userA     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	userB     = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type harness struct {
	eng    *engine.Engine
	store  *memory.Store
	now    atomic.Int64
	events []domain.Event
	mu     sync.Mutex
	feed   domain.FeedKey
	market domain.MarketKey
}

func as(id domain.Identity) domain.Credentials { return domain.Credentials{Caller: id} }

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, engine.DefaultConfig())
}

func newHarnessWith(t *testing.T, cfg engine.Config) *harness {
	t.Helper()
	h := &harness{store: memory.New()}
	h.now.Store(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.eng = engine.New(h.store, cachemem.NewLockManager(), crypto.TrustedAuthenticator{}, cfg, logger).
		WithClock(h.now.Load).
		WithEventSink(domain.EventSinkFunc(func(_ context.Context, ev domain.Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}))

	var err error
	h.feed, err = domain.NewFeedKey("NFL", "2025-NE-NYJ-001")
	require.NoError(t, err)
	h.market = domain.MarketKey{GameID: h.feed.GameID, Kind: 0}
	return h
}

// setup provisions a registry, a publisher, a feed and an Open market
// closing at t0+600, and funds both users.
func (h *harness) setup(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := h.eng.InitRegistry(ctx, as(authority), domain.InitRegistryRequest{Treasury: treasury})
	require.NoError(t, err)
	require.NoError(t, h.eng.AddPublisher(ctx, as(authority), domain.AddPublisherRequest{Publisher: publisher}))
	_, err = h.eng.InitFeed(ctx, as(publisher), domain.InitFeedRequest{Feed: h.feed})
	require.NoError(t, err)
	_, err = h.eng.InitMarket(ctx, as(userA), domain.InitMarketRequest{
		Market: h.market, CloseTime: t0 + 600, Feed: h.feed, Treasury: treasury,
	})
	require.NoError(t, err)

	require.NoError(t, h.store.Deposit(ctx, userA, 10_000_000))
	require.NoError(t, h.store.Deposit(ctx, userB, 10_000_000))
}

func (h *harness) stake(id domain.Identity, side domain.Side, amount uint64) (domain.Position, error) {
	return h.eng.PlacePosition(context.Background(), as(id), domain.PlacePositionRequest{Market: h.market, Side: side, Amount: amount})
}

func (h *harness) publish(t *testing.T, ts int64) {
	t.Helper()
	_, err := h.eng.SubmitUpdate(context.Background(), as(publisher), domain.SubmitUpdateRequest{
		Feed:   h.feed,
		Update: domain.FeedUpdate{PayloadHash: domain.Hash{0x42}, Timestamp: ts},
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, id domain.Identity) uint64 {
	t.Helper()
	b, err := h.eng.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.InitRegistry(ctx, as(authority), domain.InitRegistryRequest{Treasury: treasury})
	require.NoError(t, err)
	require.NoError(t, h.eng.AddPublisher(ctx, as(authority), domain.AddPublisherRequest{Publisher: publisher}))
	_, err = h.eng.InitFeed(ctx, as(publisher), domain.InitFeedRequest{Feed: h.feed})
	require.NoError(t, err)
	h.publish(t, t0)

	_, err = h.eng.InitMarket(ctx, as(userA), domain.InitMarketRequest{
		Market: h.market, CloseTime: t0 + 3600, Feed: h.feed, Treasury: treasury,
	})
	require.NoError(t, err)
	require.NoError(t, h.store.Deposit(ctx, userA, 10_000_000))
	require.NoError(t, h.store.Deposit(ctx, userB, 10_000_000))

	_, err = h.stake(userA, domain.SideHome, 1_000_000)
	require.NoError(t, err)
	_, err = h.stake(userB, domain.SideAway, 2_000_000)
	require.NoError(t, err)

	m, err := h.eng.Market(ctx, h.market)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), m.TotalHomeStake)
	assert.Equal(t, uint64(2_000_000), m.TotalAwayStake)
	assert.Equal(t, uint64(3_000_000), h.balance(t, h.market.Escrow()))

	_, err = h.eng.LockMarket(ctx, as(authority), domain.LockMarketRequest{Market: h.market})
	require.NoError(t, err)

	h.now.Store(t0 + 3700)
	h.publish(t, t0+3700)

	m, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, m.State)
	assert.Equal(t, domain.OutcomeHome, m.Outcome)

	paid, err := h.eng.Claim(ctx, as(userA), domain.ClaimRequest{Market: h.market})
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000), paid)
	assert.Equal(t, uint64(12_000_000), h.balance(t, userA))
	assert.Equal(t, uint64(8_000_000), h.balance(t, userB))
	assert.Equal(t, uint64(0), h.balance(t, h.market.Escrow()))

	_, err = h.eng.Claim(ctx, as(userB), domain.ClaimRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrLosingPosition)

	_, err = h.eng.Claim(ctx, as(userA), domain.ClaimRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, uint64(12_000_000), h.balance(t, userA))

	types := make([]domain.EventType, 0, len(h.events))
	for _, ev := range h.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventRegistryInitialized,
		domain.EventPublisherAdded,
		domain.EventFeedInitialized,
		domain.EventFeedUpdated,
		domain.EventMarketInitialized,
		domain.EventPositionPlaced,
		domain.EventPositionPlaced,
		domain.EventMarketLocked,
		domain.EventFeedUpdated,
		domain.EventMarketResolved,
		domain.EventClaimPaid,
	}, types)
}

func TestEngine_RegistryDuplicateAndAuthority(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.eng.InitRegistry(ctx, as(stranger), domain.InitRegistryRequest{Treasury: treasury})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = h.eng.AddPublisher(ctx, as(stranger), domain.AddPublisherRequest{Publisher: stranger})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	err = h.eng.AddPublisher(ctx, as(authority), domain.AddPublisherRequest{Publisher: publisher})
	assert.ErrorIs(t, err, domain.ErrPublisherAlreadyExists)

	require.NoError(t, h.eng.SetFreshnessWindow(ctx, as(authority), domain.SetFreshnessWindowRequest{Seconds: 60}))
	require.NoError(t, h.eng.RemovePublisher(ctx, as(authority), domain.RemovePublisherRequest{Publisher: publisher}))

	reg, err := h.eng.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), reg.FreshnessWindow)
	assert.Empty(t, reg.PublisherList())

	_, err = h.eng.SubmitUpdate(ctx, as(publisher), domain.SubmitUpdateRequest{Feed: h.feed, Update: domain.FeedUpdate{Timestamp: t0}})
	assert.ErrorIs(t, err, domain.ErrUnauthorizedPublisher)
}

func TestEngine_FeedDuplicateAndStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.eng.InitFeed(ctx, as(stranger), domain.InitFeedRequest{Feed: h.feed})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = h.eng.SubmitUpdate(ctx, as(publisher), domain.SubmitUpdateRequest{Feed: h.feed, Update: domain.FeedUpdate{Timestamp: t0 - 3601}})
	assert.ErrorIs(t, err, domain.ErrStaleData)

	f, err := h.eng.Feed(ctx, h.feed)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.UpdateCount)

	h.publish(t, t0-3600)
	f, err = h.eng.Feed(ctx, h.feed)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.UpdateCount)
	assert.Equal(t, publisher, f.Publisher)
}

func TestEngine_RingWrapsAfterSeventeenUpdates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	for i := 0; i < 17; i++ {
		_, err := h.eng.SubmitUpdate(ctx, as(publisher), domain.SubmitUpdateRequest{
			Feed:   h.feed,
			Update: domain.FeedUpdate{PayloadHash: domain.Hash{byte(i + 1)}, Timestamp: t0 + int64(i)},
		})
		require.NoError(t, err)
	}
	f, err := h.eng.Feed(ctx, h.feed)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Ring.Index)
	assert.Equal(t, domain.Hash{17}, f.Ring.Entries[0].Hash)
	assert.Equal(t, domain.Hash{17}, f.LatestHash)
}

func TestEngine_InitMarketRequiresFeed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.eng.InitMarket(ctx, as(userA), domain.InitMarketRequest{Market: h.market, CloseTime: t0, Feed: h.feed})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	other, err := domain.NewFeedKey("NBA", "missing")
	require.NoError(t, err)
	_, err = h.eng.InitMarket(ctx, as(userA), domain.InitMarketRequest{Market: domain.MarketKey{GameID: other.GameID, Kind: 1}, CloseTime: t0, Feed: other})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_StakeBoundaries(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	_, err := h.stake(userA, domain.SideHome, 999_999)
	assert.ErrorIs(t, err, domain.ErrInsufficientStake)
	_, err = h.stake(userA, domain.SideHome, 1_000_000)
	assert.NoError(t, err)

	_, err = h.stake(userA, domain.Side(3), 1_000_000)
	assert.ErrorIs(t, err, domain.ErrInvalidSide)
	_, err = h.stake(userA, domain.SideAway, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrPositionSideMismatch)

	h.now.Store(t0 + 599)
	_, err = h.stake(userB, domain.SideAway, 1_000_000)
	assert.NoError(t, err)

	h.now.Store(t0 + 600)
	_, err = h.stake(userB, domain.SideAway, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	p, err := h.eng.Position(context.Background(), domain.PositionKey{Market: h.market, User: userB})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), p.Stake)
}

func TestEngine_InsufficientFundsRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.stake(userA, domain.SideHome, 10_000_001)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	m, err := h.eng.Market(ctx, h.market)
	require.NoError(t, err)
	assert.Zero(t, m.TotalHomeStake)
	_, err = h.eng.Position(ctx, domain.PositionKey{Market: h.market, User: userA})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, uint64(10_000_000), h.balance(t, userA))
}

func TestEngine_LockAndResolveRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	assert.ErrorIs(t, err, domain.ErrMarketNotLocked)

	_, err = h.eng.LockMarket(ctx, as(stranger), domain.LockMarketRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.LockMarket(ctx, as(authority), domain.LockMarketRequest{Market: h.market})
	require.NoError(t, err)
	_, err = h.eng.LockMarket(ctx, as(authority), domain.LockMarketRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)

	_, err = h.stake(userA, domain.SideHome, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)

	// Never-updated feed.
	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	assert.ErrorIs(t, err, domain.ErrStaleOracleData)

	h.publish(t, t0)
	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.Outcome(0)})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = h.eng.ResolveMarket(ctx, as(stranger), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	h.now.Store(t0 + 7201)
	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	assert.ErrorIs(t, err, domain.ErrStaleOracleData)

	h.now.Store(t0 + 7200)
	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeAway})
	require.NoError(t, err)

	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	assert.ErrorIs(t, err, domain.ErrMarketNotLocked)
	m, err := h.eng.Market(ctx, h.market)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAway, m.Outcome)
}

func TestEngine_ClaimBeforeResolution(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	_, err := h.eng.Claim(context.Background(), as(userA), domain.ClaimRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestEngine_VoidMarket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.stake(userA, domain.SideHome, 1_000_000)
	require.NoError(t, err)

	_, err = h.eng.VoidMarket(ctx, as(stranger), domain.VoidMarketRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	m, err := h.eng.VoidMarket(ctx, as(authority), domain.VoidMarketRequest{Market: h.market})
	require.NoError(t, err)
	assert.Equal(t, domain.MarketVoid, m.State)

	_, err = h.eng.Claim(ctx, as(userA), domain.ClaimRequest{Market: h.market})
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
	assert.Equal(t, uint64(1_000_000), h.balance(t, h.market.Escrow()))
}

func TestEngine_ConcurrentStakesConserveFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	const workers = 8
	users := make([]domain.Identity, workers)
	for i := range users {
		users[i] = common.BigToAddress(common.Big256)
		users[i][0] = byte(i + 1)
		require.NoError(t, h.store.Deposit(ctx, users[i], 5_000_000))
	}

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u domain.Identity) {
			defer wg.Done()
			side := domain.SideHome
			if i%2 == 1 {
				side = domain.SideAway
			}
			for j := 0; j < 5; j++ {
				_, err := h.stake(u, side, 1_000_000)
				assert.NoError(t, err)
			}
		}(i, u)
	}
	wg.Wait()

	m, err := h.eng.Market(ctx, h.market)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), m.TotalHomeStake)
	assert.Equal(t, uint64(20_000_000), m.TotalAwayStake)
	assert.Equal(t, m.TotalPool(), h.balance(t, h.market.Escrow()))
	for _, u := range users {
		assert.Zero(t, h.balance(t, u))
	}
}

func TestEngine_ConcurrentClaimPaysOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	_, err := h.stake(userA, domain.SideHome, 2_000_000)
	require.NoError(t, err)
	_, err = h.stake(userB, domain.SideAway, 1_000_000)
	require.NoError(t, err)
	h.publish(t, t0)
	_, err = h.eng.LockMarket(ctx, as(authority), domain.LockMarketRequest{Market: h.market})
	require.NoError(t, err)
	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeHome})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.eng.Claim(ctx, as(userA), domain.ClaimRequest{Market: h.market}); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, uint64(11_000_000), h.balance(t, userA))
}

func TestEngine_LockWaitHonoursContext(t *testing.T) {
	h := newHarness(t)
	locks := cachemem.NewLockManager()
	eng := engine.New(h.store, locks, crypto.TrustedAuthenticator{}, engine.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	unlock, err := locks.Acquire(context.Background(), domain.RegistryRecordKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = eng.InitRegistry(ctx, as(authority), domain.InitRegistryRequest{Treasury: treasury})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_ConfiguredResolutionStaleness(t *testing.T) {
	ctx := context.Background()
	cfg := engine.DefaultConfig()
	cfg.ResolutionStaleness = 100
	h := newHarnessWith(t, cfg)
	h.setup(t)

	h.now.Store(t0 + 700)
	h.publish(t, t0+650)
	_, err := h.eng.LockMarket(ctx, as(authority), domain.LockMarketRequest{Market: h.market})
	require.NoError(t, err)

	h.now.Store(t0 + 751)
	_, err = h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeAway})
	assert.ErrorIs(t, err, domain.ErrStaleOracleData)

	h.now.Store(t0 + 750)
	m, err := h.eng.ResolveMarket(ctx, as(authority), domain.ResolveMarketRequest{Market: h.market, Outcome: domain.OutcomeAway})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAway, m.Outcome)
}

func TestEngine_SignedStakeExpiresWithItsNonce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setup(t)

	clock := func() time.Time { return time.Unix(h.now.Load(), 0) }
	guard := crypto.NewMemoryNonceGuard(time.Minute).WithClock(clock)
	auth := crypto.NewSignatureAuthenticator(guard, time.Minute).WithClock(clock)
	eng := engine.New(h.store, cachemem.NewLockManager(), auth, engine.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(h.now.Load)

	user, err := crypto.GenerateSigner()
	require.NoError(t, err)
	user.WithClock(clock).WithValidity(30 * time.Second)
	require.NoError(t, h.store.Deposit(ctx, user.Address(), 5_000_000))

	req := domain.PlacePositionRequest{Market: h.market, Side: domain.SideHome, Amount: 1_000_000}
	cred, err := user.SignRequest(req, 7)
	require.NoError(t, err)

	_, err = eng.PlacePosition(ctx, cred, req)
	require.NoError(t, err)
	_, err = eng.PlacePosition(ctx, cred, req)
	assert.ErrorIs(t, err, domain.ErrReplayedNonce)

	// The guard forgets the nonce, but the signed deadline has passed.
	h.now.Add(60)
	guard.Cleanup()
	for range 4 {
		_, err = eng.PlacePosition(ctx, cred, req)
		assert.ErrorIs(t, err, domain.ErrRequestExpired)
	}

	p, err := eng.Position(ctx, domain.PositionKey{Market: h.market, User: user.Address()})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), p.Stake)
	assert.Equal(t, uint64(4_000_000), h.balance(t, user.Address()))
}
