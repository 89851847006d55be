package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	cachemem "github.com/alanyoungcy/band4band/internal/cache/memory"
	"github.com/alanyoungcy/band4band/internal/crypto"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/engine"
	"github.com/alanyoungcy/band4band/internal/server/ws"
	"github.com/alanyoungcy/band4band/internal/store/memory"
)

const t0 = int64(1_700_000_000)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	publisher = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type wsFrame struct {
	kind int
	data []byte
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHub runs a hub over bus and returns the ws:// URL serving it.
func startHub(t *testing.T, bus domain.SignalBus) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(bus, "node", quietLogger())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// dial connects to url and streams received frames until the connection
// closes.
func dial(t *testing.T, url string) (*websocket.Conn, <-chan wsFrame) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frames := make(chan wsFrame, 64)
	go func() {
		defer close(frames)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- wsFrame{kind: kind, data: data}
		}
	}()
	return conn, frames
}

func next(t *testing.T, frames <-chan wsFrame) wsFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return wsFrame{}
	}
}

// frameType returns the event type of an event frame, or the frame type
// otherwise.
func frameType(t *testing.T, f wsFrame) string {
	t.Helper()
	require.Equal(t, websocket.TextMessage, f.kind)
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Type string `json:"type"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(f.data, &env), string(f.data))
	if env.Type == "event" {
		return env.Payload.Type
	}
	return env.Type
}

// until reads frames up to and including the first of type want.
func until(t *testing.T, frames <-chan wsFrame, want string) []string {
	t.Helper()
	var seen []string
	for {
		typ := frameType(t, next(t, frames))
		seen = append(seen, typ)
		if typ == want {
			return seen
		}
	}
}

func publish(t *testing.T, bus domain.SignalBus, typ domain.EventType, attrs map[string]string) {
	t.Helper()
	raw, err := json.Marshal(domain.NewEvent(typ, authority, time.Unix(t0, 0), attrs))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ws.EventsChannel, raw))
}

func TestHub_GreetsWithNodeStatus(t *testing.T) {
	url := startHub(t, cachemem.NewSignalBus())
	_, frames := dial(t, url)

	f := next(t, frames)
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Mode          string  `json:"mode"`
			UptimeSeconds float64 `json:"uptime_seconds"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(f.data, &env))
	assert.Equal(t, "node_status", env.Type)
	assert.Equal(t, "node", env.Payload.Mode)
	assert.GreaterOrEqual(t, env.Payload.UptimeSeconds, float64(0))
}

func TestHub_FilteredClientSeesOnlyMarketEvents(t *testing.T) {
	ctx := context.Background()
	bus := cachemem.NewSignalBus()
	url := startHub(t, bus)

	_, filtered := dial(t, url+"?events=market_*")
	_, all := dial(t, url)
	require.Equal(t, "node_status", frameType(t, next(t, filtered)))
	require.Equal(t, "node_status", frameType(t, next(t, all)))

	store := memory.New()
	eng := engine.New(store, cachemem.NewLockManager(), crypto.TrustedAuthenticator{}, engine.DefaultConfig(), quietLogger()).
		WithClock(func() int64 { return t0 }).
		WithEventSink(domain.EventSinkFunc(func(ctx context.Context, ev domain.Event) {
			raw, err := json.Marshal(ev)
			if err == nil {
				_ = bus.Publish(ctx, ws.EventsChannel, raw)
			}
		}))

	feed, err := domain.NewFeedKey("NFL", "2025-NE-NYJ-001")
	require.NoError(t, err)
	market := domain.MarketKey{GameID: feed.GameID}
	as := func(id domain.Identity) domain.Credentials { return domain.Credentials{Caller: id} }

	_, err = eng.InitRegistry(ctx, as(authority), domain.InitRegistryRequest{Treasury: authority})
	require.NoError(t, err)
	require.NoError(t, eng.AddPublisher(ctx, as(authority), domain.AddPublisherRequest{Publisher: publisher}))
	_, err = eng.InitFeed(ctx, as(publisher), domain.InitFeedRequest{Feed: feed})
	require.NoError(t, err)
	_, err = eng.InitMarket(ctx, as(authority), domain.InitMarketRequest{
		Market: market, CloseTime: t0 + 3600, Feed: feed, Treasury: authority,
	})
	require.NoError(t, err)
	_, err = eng.LockMarket(ctx, as(authority), domain.LockMarketRequest{Market: market})
	require.NoError(t, err)

	assert.Equal(t, []string{
		string(domain.EventMarketInitialized),
		string(domain.EventMarketLocked),
	}, until(t, filtered, string(domain.EventMarketLocked)))

	assert.Equal(t, []string{
		string(domain.EventRegistryInitialized),
		string(domain.EventPublisherAdded),
		string(domain.EventFeedInitialized),
		string(domain.EventMarketInitialized),
		string(domain.EventMarketLocked),
	}, until(t, all, string(domain.EventMarketLocked)))
}

func TestHub_SubscribeAndUnsubscribeMessages(t *testing.T) {
	bus := cachemem.NewSignalBus()
	url := startHub(t, bus)

	conn, frames := dial(t, url+"?events=claim_paid&events=feed_*")
	require.Equal(t, "node_status", frameType(t, next(t, frames)))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "events": []string{"feed_*"}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "events": []string{"market_voided"}}))

	// Filters apply asynchronously; publish until the new subscription
	// takes effect.
	var seen []string
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "subscription never applied")
		publish(t, bus, domain.EventFeedUpdated, nil)
		publish(t, bus, domain.EventMarketVoided, nil)
		select {
		case f := <-frames:
			seen = append(seen, frameType(t, f))
		case <-time.After(50 * time.Millisecond):
		}
		if len(seen) > 0 && seen[len(seen)-1] == string(domain.EventMarketVoided) {
			break
		}
	}

	publish(t, bus, domain.EventFeedUpdated, nil)
	publish(t, bus, domain.EventClaimPaid, nil)
	for _, typ := range until(t, frames, string(domain.EventClaimPaid)) {
		assert.NotEqual(t, string(domain.EventFeedUpdated), typ)
	}
}

func TestHub_ProtoFrames(t *testing.T) {
	bus := cachemem.NewSignalBus()
	url := startHub(t, bus)
	_, frames := dial(t, url+"?format=proto")

	decode := func(f wsFrame) *structpb.Struct {
		t.Helper()
		require.Equal(t, websocket.BinaryMessage, f.kind)
		var st structpb.Struct
		require.NoError(t, proto.Unmarshal(f.data, &st))
		return &st
	}

	greeting := decode(next(t, frames)).AsMap()
	assert.Equal(t, "node_status", greeting["type"])

	publish(t, bus, domain.EventMarketResolved, map[string]string{"game_id": "2025-NE-NYJ-001"})
	ev := decode(next(t, frames)).AsMap()
	assert.Equal(t, "event", ev["type"])
	payload, ok := ev["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(domain.EventMarketResolved), payload["type"])
	caller, ok := payload["caller"].(string)
	require.True(t, ok)
	assert.Equal(t, authority, common.HexToAddress(caller))
	attrs, ok := payload["attrs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-NE-NYJ-001", attrs["game_id"])
}
