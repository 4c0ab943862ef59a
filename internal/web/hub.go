package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The storefront UI may be served from another origin in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// client is one browser connection.
type client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	snapshot func() event.Notification
}

// Hub pushes every bus notification to all connected browsers.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	count  atomic.Int64
	clock  clock.Clock
	logger *slog.Logger
}

// NewHub returns a Hub. Run must be started before clients connect.
func NewHub(clk clock.Clock, logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		clock:      clk,
		logger:     logger,
	}
}

// Run owns the client set until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	clients := make(map[*client]struct{})
	drop := func(c *client) {
		if _, ok := clients[c]; !ok {
			return
		}
		delete(clients, c)
		close(c.send)
		h.count.Add(-1)
		h.logger.DebugContext(ctx, "websocket client disconnected", slog.String("client_id", c.id))
	}

	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				drop(c)
			}
			return
		case c := <-h.register:
			// The snapshot is taken inside the loop so that every broadcast
			// dequeued after it reaches the client.
			if c.snapshot != nil {
				if msg, err := h.encode(c.snapshot()); err == nil {
					c.send <- msg
				} else {
					h.logger.ErrorContext(ctx, "encoding snapshot", slog.String("client_id", c.id), slog.Any("error", err))
				}
			}
			clients[c] = struct{}{}
			h.count.Add(1)
			h.logger.DebugContext(ctx, "websocket client connected", slog.String("client_id", c.id))
		case c := <-h.unregister:
			drop(c)
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					// A client that cannot keep up is disconnected.
					drop(c)
				}
			}
		}
	}
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Attach subscribes the hub to every notification on bus.
func (h *Hub) Attach(bus *event.Bus) (detach func()) {
	return bus.SubscribeAll(h.Handle)
}

// Handle encodes n and queues it for every client without blocking.
func (h *Hub) Handle(ctx context.Context, n event.Notification) {
	msg, err := h.encode(n)
	if err != nil {
		h.logger.ErrorContext(ctx, "encoding notification", slog.String("type", string(n.Type())), slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.WarnContext(ctx, "websocket broadcast queue full, dropping notification", slog.String("type", string(n.Type())))
	}
}

func (h *Hub) encode(n event.Notification) ([]byte, error) {
	env, err := event.Encode(n, h.clock.Now())
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// serve upgrades the request and streams notifications to it. snapshot is
// called once the client is registered and its result is sent before any
// broadcast.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, snapshot func() event.Notification) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		snapshot: snapshot,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client input and unregisters the client once the
// connection fails or stops answering pings.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", slog.String("client_id", c.id), slog.Any("error", err))
			}
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive with pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
