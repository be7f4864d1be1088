package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/metrics"
)

// State is a connection lifecycle state. Transitions only move
// forward: Connecting → Open → Closing → Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn wraps one websocket with its state machine. All writes go
// through the outbound channel so a single writer goroutine owns the
// socket; the read loop processes messages strictly in arrival order.
type Conn struct {
	ID       string
	OpenedAt time.Time

	ws       *websocket.Conn
	outbound chan []byte
	done     chan struct{}
	state    atomic.Int32
	lastPing atomic.Int64

	closeOnce sync.Once
	hub       *Hub
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// LastPing returns the time of the last pong received.
func (c *Conn) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// Handler receives connection lifecycle and message callbacks. The hub
// calls HandleMessage synchronously from the connection's own read
// loop, which is what gives each connection its per-sender ordering
// guarantee.
type Handler interface {
	HandleOpen(ctx context.Context, c *Conn)
	HandleMessage(ctx context.Context, c *Conn, raw []byte)
}

// Hub owns the set of live connections and all delivery. No other
// component mutates connection state.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	handler      Handler
	pingInterval time.Duration
	pongTimeout  time.Duration
	sendBuffer   int
	logger       *slog.Logger
}

// NewHub creates a hub with the given relay tuning.
func NewHub(cfg config.RelayConfig, logger *slog.Logger) *Hub {
	return &Hub{
		conns:        make(map[string]*Conn),
		pingInterval: cfg.GetPingInterval(),
		pongTimeout:  cfg.GetPongTimeout(),
		sendBuffer:   cfg.SendBuffer,
		logger:       logger,
	}
}

// SetHandler installs the protocol handler. Must be called before
// Serve.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Serve owns ws for the life of the connection: it registers the
// connection, starts its writer, runs the read loop and tears
// everything down on exit. It blocks until the connection dies.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn) {
	c := &Conn{
		ID:       uuid.NewString(),
		OpenedAt: time.Now(),
		ws:       ws,
		outbound: make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		hub:      h,
	}
	c.state.Store(int32(StateConnecting))
	c.lastPing.Store(time.Now().UnixNano())

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	metrics.LiveConnections.Inc()

	go h.writeLoop(c)

	c.state.Store(int32(StateOpen))
	h.logger.Info("connection open", "connection_id", c.ID)
	if h.handler != nil {
		h.handler.HandleOpen(ctx, c)
	}

	h.readLoop(ctx, c)
	h.close(c)
}

func (h *Hub) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.lastPing.Store(time.Now().UnixNano())
		return c.ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("read failed", "connection_id", c.ID, "error", err)
			}
			return
		}
		if h.handler != nil {
			// synchronous: the next message on this connection is not
			// read until this one is fully handled
			h.handler.HandleMessage(ctx, c, raw)
		}
	}
}

func (h *Hub) writeLoop(c *Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("write failed", "connection_id", c.ID, "error", err)
				h.close(c)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				h.logger.Warn("heartbeat failed", "connection_id", c.ID, "error", err)
				h.close(c)
				return
			}
		}
	}
}

// Send unicasts v to c. Writing to a connection that is not open is a
// no-op, never an error; a full outbound buffer counts as a dead peer
// and closes the connection.
func (h *Hub) Send(c *Conn, v any) {
	if c == nil || c.State() != StateOpen {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal outbound envelope", "error", err)
		return
	}
	select {
	case c.outbound <- data:
	case <-c.done:
	default:
		h.logger.Warn("outbound buffer full, dropping connection", "connection_id", c.ID)
		h.close(c)
	}
}

// Broadcast delivers v to every open connection except the one given
// (pass nil to reach everyone). Connections that close between
// selection and send are skipped silently.
func (h *Hub) Broadcast(v any, except *Conn) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if except != nil && c.ID == except.ID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.Send(c, v)
	}
}

// CloseAll tears down every connection; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.close(c)
	}
}

func (h *Hub) close(c *Conn) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.ws.Close()

		h.mu.Lock()
		delete(h.conns, c.ID)
		h.mu.Unlock()
		metrics.LiveConnections.Dec()
		h.logger.Info("connection closed", "connection_id", c.ID)
	})
}
