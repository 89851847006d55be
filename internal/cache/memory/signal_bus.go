package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/band4band/internal/domain"
)

const (
	subscriberBuffer = 128
	streamMaxLen     = 10000
)

// SignalBus implements domain.SignalBus in memory. Slow subscribers drop
// messages rather than block publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
}

// NewSignalBus returns an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to subscribers whose channel or pattern matches.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for pattern, set := range b.subs {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for ch := range set {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers for channel, which may be a glob pattern. The
// returned channel closes when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// StreamAppend appends payload to stream, trimming the oldest entries.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	s := append(b.streams[stream], domain.StreamMessage{ID: strconv.FormatUint(b.seq, 10), Payload: payload})
	if len(s) > streamMaxLen {
		s = s[len(s)-streamMaxLen:]
	}
	b.streams[stream] = s
	return nil
}

// StreamRead returns up to count entries with IDs after lastID.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseUint(lastID, 10, 64)
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
