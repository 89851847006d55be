package oracle_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/crypto"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/oracle"
)

const samplePayload = `{
  "league": "NFL",
  "gameId": "2025-NE-NYJ-001",
  "timestamp": 1736000000,
  "score": {"home": 24, "away": 17, "quarter": 4, "clock": "00:00"},
  "final": true,
  "players": [{"id": "qb-12", "passingYds": 301, "passTD": 3}],
  "source": ["espn", "nfl.com"],
  "normalizerVersion": "1.0.0",
  "ignored": "extra keys are dropped"
}`

func TestParsePayload(t *testing.T) {
	p, err := oracle.ParsePayload([]byte(samplePayload))
	require.NoError(t, err)
	assert.Equal(t, "NFL", p.League)
	assert.Equal(t, int64(24), p.Score.Home)
	require.Len(t, p.Players, 1)
	require.NotNil(t, p.Players[0].PassTD)
	assert.Equal(t, int64(3), *p.Players[0].PassTD)

	fk, err := p.FeedKey()
	require.NoError(t, err)
	assert.Equal(t, "NFL/2025-NE-NYJ-001", fk.String())
}

func TestParsePayloadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing league":  `{"gameId":"g","timestamp":1,"score":{},"final":false,"source":["x"],"normalizerVersion":"1"}`,
		"league too long": `{"league":"NATIONALFOOTBALL","gameId":"g","timestamp":1,"score":{},"final":false,"source":["x"],"normalizerVersion":"1"}`,
		"no sources":      `{"league":"NFL","gameId":"g","timestamp":1,"score":{},"final":false,"source":[],"normalizerVersion":"1"}`,
		"negative score":  `{"league":"NFL","gameId":"g","timestamp":1,"score":{"home":-1},"final":false,"source":["x"],"normalizerVersion":"1"}`,
		"player w/o id":   `{"league":"NFL","gameId":"g","timestamp":1,"score":{},"final":false,"players":[{}],"source":["x"],"normalizerVersion":"1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := oracle.ParsePayload([]byte(raw))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCanonicalIsCompactAndOrdered(t *testing.T) {
	p, err := oracle.ParsePayload([]byte(samplePayload))
	require.NoError(t, err)
	raw, err := p.Canonical()
	require.NoError(t, err)

	want := `{"league":"NFL","gameId":"2025-NE-NYJ-001","timestamp":1736000000,` +
		`"score":{"home":24,"away":17,"quarter":4,"clock":"00:00"},"final":true,` +
		`"players":[{"id":"qb-12","passingYds":301,"passTD":3}],"source":["espn","nfl.com"],` +
		`"normalizerVersion":"1.0.0"}`
	assert.Equal(t, want, string(raw))
}

func TestHashPayload(t *testing.T) {
	h := oracle.HashPayload([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(h[:]))

	assert.True(t, oracle.VerifyPayloadAgainstHash([]byte("abc"), h))
	assert.False(t, oracle.VerifyPayloadAgainstHash([]byte("abd"), h))
}

func TestCIDCommitsToHash(t *testing.T) {
	h := oracle.HashPayload([]byte("final score"))
	c, err := oracle.ComputeCID(h)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c, "bafkrei"), c)
	assert.LessOrEqual(t, len(c), domain.CIDLen)

	back, err := oracle.HashFromCID(c)
	require.NoError(t, err)
	assert.Equal(t, h, back)

	require.NoError(t, oracle.VerifyPinned(c, []byte("final score")))
	assert.ErrorIs(t, oracle.VerifyPinned(c, []byte("tampered")), domain.ErrInvalidInput)

	_, err = oracle.HashFromCID("QmStubIPFSCIDForDevelopment123456789")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPrepare(t *testing.T) {
	p, err := oracle.ParsePayload([]byte(samplePayload))
	require.NoError(t, err)
	pp, err := oracle.Prepare(p)
	require.NoError(t, err)

	assert.Equal(t, oracle.HashPayload(pp.Canonical), pp.Hash)
	u, err := pp.Update(1736000100)
	require.NoError(t, err)
	assert.Equal(t, pp.Hash, u.PayloadHash)
	assert.Equal(t, pp.CID, u.CID.String())
	assert.Equal(t, int64(1736000100), u.Timestamp)
}

func TestClientSubmitUpdate(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	fk, err := domain.NewFeedKey("NFL", "g-1")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/feeds/updates", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var env api.Envelope[domain.SubmitUpdateRequest]
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, signer.Address(), env.Caller)

		digest := crypto.Digest(env.Request.Op(), env.Request.SigningBytes(), env.Nonce, env.Deadline)
		who, err := crypto.Recover(digest, env.Signature)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), who)

		f := domain.NewOracleFeed(env.Request.Feed)
		f.LatestHash = env.Request.Update.PayloadHash
		f.UpdateCount = 1
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.NewFeedView(f))
	}))
	defer srv.Close()

	c := oracle.NewClient(srv.URL, "secret", time.Second)
	h := oracle.HashPayload([]byte("x"))
	view, err := c.SubmitUpdate(context.Background(), signer, fk, domain.FeedUpdate{PayloadHash: h, Timestamp: 10})
	require.NoError(t, err)
	assert.Equal(t, h, view.LatestHash)
	assert.Equal(t, uint64(1), view.UpdateCount)
}

func TestClientDecodesNodeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(api.ErrorBody{Error: "too old", Code: "StaleData", Kind: "timing"})
	}))
	defer srv.Close()

	fk, err := domain.NewFeedKey("NFL", "g-1")
	require.NoError(t, err)
	_, err = oracle.NewClient(srv.URL, "", time.Second).Feed(context.Background(), fk)
	require.Error(t, err)
	assert.True(t, oracle.IsCode(err, "StaleData"))

	var apiErr *oracle.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestClientPin(t *testing.T) {
	p, err := oracle.ParsePayload([]byte(samplePayload))
	require.NoError(t, err)
	pp, err := oracle.Prepare(p)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payloads", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, string(pp.Canonical), string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.PinResult{Hash: pp.Hash, CID: pp.CID})
	}))
	defer srv.Close()

	res, err := oracle.NewClient(srv.URL, "", time.Second).Pin(context.Background(), pp.Canonical)
	require.NoError(t, err)
	assert.Equal(t, pp.Hash, res.Hash)
	assert.Equal(t, pp.CID, res.CID)
}
