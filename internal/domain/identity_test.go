package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeague(t *testing.T) {
	l, err := domain.NewLeague("NFL")
	require.NoError(t, err)
	assert.Equal(t, "NFL", l.String())
	assert.Equal(t, byte(0), l[3])

	_, err = domain.NewLeague("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = domain.NewLeague("TOOLONGXX")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewGameID_MaxWidth(t *testing.T) {
	g, err := domain.NewGameID(strings.Repeat("g", domain.GameIDLen))
	require.NoError(t, err)
	assert.Len(t, g.String(), domain.GameIDLen)

	_, err = domain.NewGameID(strings.Repeat("g", domain.GameIDLen+1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestParseHash(t *testing.T) {
	hex := "0x" + strings.Repeat("ab", 32)
	h, err := domain.ParseHash(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, h.String())

	h2, err := domain.ParseHash(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	_, err = domain.ParseHash("0xabcd")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = domain.ParseHash("zz")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFeedKey_JSON(t *testing.T) {
	k := mustFeedKey(t, "NFL", "2025-NE-NYJ-001")
	raw, err := json.Marshal(k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"league":"NFL","game_id":"2025-NE-NYJ-001"}`, string(raw))

	var back domain.FeedKey
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, k, back)
}

func TestParseIdentity(t *testing.T) {
	id, err := domain.ParseIdentity("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, byte(0xaa), id[19])

	_, err = domain.ParseIdentity("not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(domain.ErrUnauthorized))
	assert.Equal(t, domain.KindTiming, domain.KindOf(domain.ErrStaleOracleData))
	assert.Equal(t, domain.KindStateMachine, domain.KindOf(domain.ErrAlreadyClaimed))
	assert.Equal(t, domain.KindInternal, domain.KindOf(assert.AnError))
	assert.Equal(t, "LosingPosition", domain.CodeOf(domain.ErrLosingPosition))
}
