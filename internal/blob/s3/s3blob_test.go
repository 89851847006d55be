package s3blob_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/band4band/internal/blob/s3"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/oracle"
	"github.com/alanyoungcy/band4band/internal/store/memory"
)

// bucket is an in-memory BlobWriter and BlobReader.
type bucket struct {
	mu    sync.Mutex
	objs  map[string][]byte
	puts  int
	parts int
}

func newBucket() *bucket { return &bucket{objs: make(map[string][]byte)} }

func (b *bucket) store(path string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objs[path] = raw
	return nil
}

func (b *bucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b.mu.Lock()
	b.puts++
	b.mu.Unlock()
	return b.store(path, data)
}

func (b *bucket) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b.mu.Lock()
	b.parts++
	b.mu.Unlock()
	return b.store(path, data)
}

func (b *bucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objs[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *bucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range b.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (b *bucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objs[path]
	return ok, nil
}

func TestPinner_PinAndFetch(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	p := s3blob.NewPinner(b, b, "payloads/")

	payload := []byte(`{"league":"NFL","gameId":"g-1"}`)
	cid, err := oracle.ComputeCID(oracle.HashPayload(payload))
	require.NoError(t, err)

	require.NoError(t, p.Pin(ctx, cid, payload))
	require.NoError(t, p.Pin(ctx, cid, payload))
	assert.Equal(t, 1, b.puts, "an existing pin is not rewritten")

	ok, err := b.Exists(ctx, "payloads/"+cid+".json")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := p.Fetch(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPinner_RejectsMismatchedContent(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	p := s3blob.NewPinner(b, b, "payloads")

	cid, err := oracle.ComputeCID(oracle.HashPayload([]byte("real")))
	require.NoError(t, err)

	assert.ErrorIs(t, p.Pin(ctx, cid, []byte("forged")), domain.ErrInvalidInput)
	assert.Zero(t, b.puts)

	b.objs["payloads/"+cid+".json"] = []byte("tampered at rest")
	_, err = p.Fetch(ctx, cid)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPinner_FetchMissing(t *testing.T) {
	p := s3blob.NewPinner(newBucket(), newBucket(), "payloads")
	cid, err := oracle.ComputeCID(oracle.HashPayload([]byte("nothing")))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background(), cid)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiver_UploadsOnlyNewEntries(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	audit := memory.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	clock := time.Now().Add(time.Minute)
	a := s3blob.NewArchiver(b, audit, "archive", logger).WithClock(func() time.Time { return clock })

	n, err := a.ArchiveOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, b.objs)

	require.NoError(t, audit.Log(ctx, "market_initialized", map[string]any{"market": "g-1/0"}))
	require.NoError(t, audit.Log(ctx, "position_placed", map[string]any{"stake": "5000000"}))

	n, err = a.ArchiveOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, b.objs, 1)
	assert.Equal(t, 1, b.parts)

	var path string
	var body []byte
	for k, v := range b.objs {
		path, body = k, v
	}
	assert.True(t, strings.HasPrefix(path, "archive/audit/"), path)
	assert.True(t, strings.HasSuffix(path, ".jsonl"), path)

	var events []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec struct {
			ID    int64  `json:"id"`
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		events = append(events, rec.Event)
	}
	assert.Equal(t, []string{"market_initialized", "position_placed"}, events)

	clock = clock.Add(time.Minute)
	n, err = a.ArchiveOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already archived entries are skipped")

	require.NoError(t, audit.Log(ctx, "market_locked", nil))
	clock = clock.Add(time.Minute)
	n, err = a.ArchiveOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
