package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware already filters cross-origin callers
		return true
	},
}

// StatsMessage is the frame pushed to stream subscribers.
type StatsMessage struct {
	Type    string `json:"type"` // "stats"
	Payload any    `json:"payload"`
}

type client struct {
	hub  *StatsHub
	conn *websocket.Conn
	send chan []byte
}

// StatsHub pushes generator snapshots to every connected WebSocket client.
type StatsHub struct {
	source   SnapshotSource
	interval time.Duration

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewStatsHub creates a hub that samples source every interval.
func NewStatsHub(source SnapshotSource, interval time.Duration) *StatsHub {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatsHub{
		source:     source,
		interval:   interval,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

func (h *StatsHub) frame() ([]byte, error) {
	return json.Marshal(StatsMessage{Type: "stats", Payload: h.source.Snapshot()})
}

// Run owns the client set. It returns when ctx is cancelled, closing every client.
func (h *StatsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.WebSocketConnections.Inc()
			logger.Info("stats stream client connected", "total_clients", len(h.clients))
			if msg, err := h.frame(); err == nil {
				h.deliver(c, msg)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				logger.Info("stats stream client disconnected", "total_clients", len(h.clients))
			}

		case <-ticker.C:
			if len(h.clients) == 0 {
				continue
			}
			msg, err := h.frame()
			if err != nil {
				logger.Error("failed to marshal stats frame", "error", err)
				continue
			}
			for c := range h.clients {
				h.deliver(c, msg)
			}
		}
	}
}

// deliver queues msg for c, dropping clients that cannot keep up.
func (h *StatsHub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
		metrics.WebSocketMessagesSent.Inc()
	default:
		logger.Warn("stats stream client too slow, disconnecting")
		h.drop(c)
	}
}

func (h *StatsHub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

// ServeWS upgrades the request and subscribes the connection to the stream.
func (h *StatsHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response
		logger.WithRequestID(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; it exists to process control messages and detect close.
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("stats stream unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump pumps frames from the hub to the connection and keeps it alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
