package rows_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/store/rows"
)

func TestRegistryKeepsPublisherOrder(t *testing.T) {
	auth := common.HexToAddress("0x0000000000000000000000000000000000000001")
	reg := domain.NewRegistry(auth, auth, 60)
	for i := 2; i <= 4; i++ {
		require.NoError(t, reg.AddPublisher(auth, common.BigToAddress(big.NewInt(int64(i)))))
	}
	require.NoError(t, reg.RemovePublisher(auth, common.HexToAddress("0x0000000000000000000000000000000000000003")))

	row, err := rows.FromRegistry(reg)
	require.NoError(t, err)
	got, err := row.Domain()
	require.NoError(t, err)
	assert.Equal(t, reg.PublisherList(), got.PublisherList())
	assert.Equal(t, reg, got)
}

func TestFeedRejectsMalformedRing(t *testing.T) {
	fk, err := domain.NewFeedKey("NFL", "g")
	require.NoError(t, err)
	row, err := rows.FromFeed(domain.NewOracleFeed(fk))
	require.NoError(t, err)

	row.Ring = `{"entries":[],"index":0}`
	_, err = row.Domain()
	assert.Error(t, err)
}

func TestParseU64(t *testing.T) {
	v, err := rows.ParseU64("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)

	v, err = rows.ParseU64("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = rows.ParseU64("-1")
	assert.Error(t, err)
}

func TestMarketKeyRange(t *testing.T) {
	_, err := rows.MarketKey("g", 256)
	assert.Error(t, err)
	k, err := rows.MarketKey("g", 255)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), k.Kind)
}
