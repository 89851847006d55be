package postgres_test

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/store/postgres"
)

// newStore connects to B4B_TEST_POSTGRES_DSN and applies the migrations.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("B4B_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("B4B_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := postgres.New(ctx, postgres.ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return postgres.NewStore(c.Pool())
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/b4b?sslmode=disable",
		postgres.DSN(postgres.ClientConfig{User: "u", Password: "p", Host: "db", Database: "b4b"}))
	assert.Equal(t, "postgres://x", postgres.DSN(postgres.ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestStore_MarketLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// Unique keys per run so the test can share a database.
	game := uuid.NewString()[:24]
	fk, err := domain.NewFeedKey("NFL", game)
	require.NoError(t, err)
	gid, err := domain.NewGameID(game)
	require.NoError(t, err)
	mk := domain.MarketKey{GameID: gid, Kind: 1}
	id := uuid.New()
	user := common.BytesToAddress(id[:])
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.InsertFeed(ctx, domain.NewOracleFeed(fk)))
		return tx.InsertMarket(ctx, domain.NewMarket(mk, 10_000, fk, treasury))
	}))

	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertMarket(ctx, domain.NewMarket(mk, 10_000, fk, treasury))
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	require.NoError(t, s.Deposit(ctx, user, 5_000_000))

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Market(ctx, mk)
		require.NoError(t, err)
		require.NoError(t, m.AddStake(domain.SideHome, 2_000_000))
		require.NoError(t, tx.UpdateMarket(ctx, m))
		require.NoError(t, tx.Transfer(ctx, user, m.Escrow(), 2_000_000))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := s.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), bal)

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Market(ctx, mk)
		require.NoError(t, err)
		assert.Zero(t, m.TotalHomeStake)

		p := domain.NewPosition(domain.PositionKey{Market: mk, User: user})
		require.NoError(t, p.Add(domain.SideAway, 3_000_000))
		return tx.InsertPosition(ctx, p)
	}))

	require.NoError(t, s.Log(ctx, "position_placed", map[string]any{"market": mk.String()}))
	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "position_placed", entries[0].Event)
}

func TestStore_ConcurrentCreditsToNewAccount(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	src, dst := uuid.New(), uuid.New()
	source := common.BytesToAddress(src[:])
	account := common.BytesToAddress(dst[:])
	require.NoError(t, s.Deposit(ctx, source, 10_000))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				errs <- s.Deposit(ctx, account, 1_000)
				return
			}
			errs <- s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
				return tx.Transfer(ctx, source, account, 1_000)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal, err := s.Balance(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000), bal)
	bal, err = s.Balance(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)

	require.NoError(t, s.Deposit(ctx, account, math.MaxUint64-20_000))
	assert.ErrorIs(t, s.Deposit(ctx, account, 1), domain.ErrMathOverflow)

	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Transfer(ctx, source, account, 1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}
