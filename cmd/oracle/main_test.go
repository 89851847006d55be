package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/oracle"
)

const payloadJSON = `{
  "league": "NFL",
  "gameId": "2025-NE-NYJ-001",
  "timestamp": 1736000000,
  "score": {"home": 24, "away": 17, "quarter": 4, "clock": "00:00"},
  "final": true,
  "source": ["espn"],
  "normalizerVersion": "1.0.0"
}`

func writePayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.json")
	require.NoError(t, os.WriteFile(path, []byte(payloadJSON), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidatePrintsCanonicalPayload(t *testing.T) {
	out, err := run(t, "validate", "--file", writePayload(t))
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.True(t, strings.HasPrefix(lines[0], `{"league":"NFL","gameId":"2025-NE-NYJ-001"`))
	assert.Contains(t, out, "cid:          bafkrei")
}

func TestValidateRejectsBadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"league":"NFL"}`), 0o600))

	_, err := run(t, "validate", "--file", path)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPushPinsThroughNodeAndSubmits(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("B4B_ORACLE_PRIVATE_KEY", hex.EncodeToString(ethcrypto.FromECDSA(key)))

	var pinned []byte
	var submitted api.Envelope[domain.SubmitUpdateRequest]
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/payloads":
			pinned, _ = io.ReadAll(r.Body)
			p, err := oracle.ParsePayload(pinned)
			require.NoError(t, err)
			pp, err := oracle.Prepare(p)
			require.NoError(t, err)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.PinResult{Hash: pp.Hash, CID: pp.CID})
		case "/api/feeds/updates":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			f := domain.NewOracleFeed(submitted.Request.Feed)
			f.LatestHash = submitted.Request.Update.PayloadHash
			f.LatestTS = submitted.Request.Update.Timestamp
			f.CID = submitted.Request.Update.CID
			f.Publisher = submitted.Caller
			f.UpdateCount = 1
			_ = json.NewEncoder(w).Encode(api.NewFeedView(f))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer node.Close()

	out, err := run(t, "push", "--node", node.URL, "--league", "NFL", "--game-id", "2025-NE-NYJ-001",
		"--file", writePayload(t), "--ts", "1736000100")
	require.NoError(t, err)

	require.NotEmpty(t, pinned)
	assert.Equal(t, oracle.HashPayload(pinned), submitted.Request.Update.PayloadHash)
	assert.Equal(t, int64(1736000100), submitted.Request.Update.Timestamp)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), submitted.Caller)
	assert.Contains(t, out, "published NFL/2025-NE-NYJ-001 update #1")
}

func TestPushRejectsMismatchedFeed(t *testing.T) {
	_, err := run(t, "push", "--node", "http://127.0.0.1:1", "--league", "NBA", "--game-id", "2025-NE-NYJ-001",
		"--file", writePayload(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not NBA/2025-NE-NYJ-001")
}

func TestEncryptKeyGenerates(t *testing.T) {
	out := filepath.Join(t.TempDir(), "k.json")
	stdout, err := run(t, "encrypt-key", "--generate", "--password", "hunter2", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)

	_, err = os.Stat(out)
	require.NoError(t, err)
}

func TestRenderFeedTable(t *testing.T) {
	fk, err := domain.NewFeedKey("NFL", "g-1")
	require.NoError(t, err)
	h := oracle.HashPayload([]byte("x"))
	v := api.FeedView{
		Feed:        fk,
		LatestHash:  h,
		LatestTS:    1736000000,
		UpdateCount: 1,
		History:     []domain.FeedEntry{{Timestamp: 1736000000, Hash: h}},
	}

	var buf bytes.Buffer
	renderFeed(&buf, v)
	assert.Contains(t, buf.String(), "2025-01-04T14:13:20Z")
	assert.Contains(t, buf.String(), h.String())
}
