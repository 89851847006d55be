// Package ws streams committed engine events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// EventsChannel is the bus channel engine events are published on.
const EventsChannel = "events"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frame is one event pre-encoded for both wire formats.
type frame struct {
	eventType string
	text      []byte
	binary    []byte
}

// client is one connection. Binary clients receive protobuf Struct frames,
// the rest JSON text frames.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	binary bool

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg changes a client's event filters. Filters are event type
// names or glob patterns such as "market_*".
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// Hub fans bus events out to connected clients.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the events channel and serves clients until ctx is
// done.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, EventsChannel)
	if err != nil {
		return err
	}
	go h.pump(ctx, msgs)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(f.eventType) {
					continue
				}
				select {
				case c.send <- f:
				default:
					h.logger.Warn("dropping event for slow client", slog.String("event", f.eventType))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump encodes bus messages into frames.
func (h *Hub) pump(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			f, err := encodeFrame(raw)
			if err != nil {
				h.logger.Warn("undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encodeFrame wraps an event as {"type":"event","payload":...} in JSON and
// as the equivalent protobuf Struct.
func encodeFrame(raw []byte) (frame, error) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		return frame{}, err
	}
	return newFrame(stringOf(ev["type"]), map[string]any{"type": "event", "payload": ev})
}

func newFrame(eventType string, envelope map[string]any) (frame, error) {
	text, err := json.Marshal(envelope)
	if err != nil {
		return frame{}, err
	}
	st, err := structpb.NewStruct(envelope)
	if err != nil {
		return frame{}, err
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	return frame{eventType: eventType, text: text, binary: bin}, nil
}

// splitList flattens repeated and comma-separated query values.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// HandleWS upgrades the request. ?format=proto selects binary frames and
// ?events=a,b sets the initial filters (default all).
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		binary: r.URL.Query().Get("format") == "proto",
		subs:   map[string]bool{"*": true},
	}
	if evs := r.URL.Query()["events"]; len(evs) > 0 {
		c.subs = make(map[string]bool)
		c.apply(subscribeMsg{Action: "subscribe", Events: splitList(evs)})
	}

	// Queue the greeting while only this goroutine can see c.send.
	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.apply(sub)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range msg.Events {
		switch msg.Action {
		case "subscribe":
			c.subs[ev] = true
		case "unsubscribe":
			delete(c.subs, ev)
		}
	}
}

// wants reports whether any filter matches eventType.
func (c *client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[eventType] {
		return true
	}
	for pattern := range c.subs {
		if ok, _ := path.Match(pattern, eventType); ok {
			return true
		}
	}
	return false
}

// sendStatus greets the client with the node's mode and uptime.
func (c *client) sendStatus() {
	f, err := newFrame("", map[string]any{
		"type": "node_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": float64(int64(time.Since(c.hub.startedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, data := websocket.TextMessage, f.text
			if c.binary {
				kind, data = websocket.BinaryMessage, f.binary
			}
			if err := c.conn.WriteMessage(kind, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
