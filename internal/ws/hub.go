package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/pkg/types"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16
)

// Event names.
const (
	EventSnapshot = "snapshot"
	EventProgress = "progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source supplies what the hub pushes. *monitor.Monitor implements it.
type Source interface {
	Progress() types.Progress
	Latest() (*types.Report, bool)
	SubscribeProgress() (<-chan types.Progress, func())
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Snapshot is the payload of a snapshot event.
type Snapshot struct {
	Progress    types.Progress  `json:"progress"`
	Analysis    *types.Analysis `json:"analysis"`
	RunID       string          `json:"run_id,omitempty"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// Hub manages websocket clients and broadcasts to all of them.
type Hub struct {
	src      Source
	interval time.Duration
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that broadcasts a snapshot every interval.
func New(src Source, interval time.Duration, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		src:      src,
		interval: interval,
		log:      log,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	updates, cancel := h.src.SubscribeProgress()
	defer cancel()

	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcastSnapshot()
		case p, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			h.broadcastProgress(p)
		}
	}
}

// ServeHTTP upgrades the connection, sends a snapshot right away and then
// relays broadcasts. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	if data, err := h.snapshotMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcastSnapshot() {
	data, err := h.snapshotMessage()
	if err != nil {
		h.log.Error("ws: encode snapshot", zap.Error(err))
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcastProgress(p types.Progress) {
	data, err := json.Marshal(Message{Event: EventProgress, Data: p})
	if err != nil {
		h.log.Error("ws: encode progress", zap.Error(err))
		return
	}
	h.broadcast(data)
}

// broadcast sends data to every client. Sends happen under the read lock so
// unregister cannot close a channel mid-send; slow clients are dropped after.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("ws: client too slow, disconnecting", zap.String("remote", c.conn.RemoteAddr().String()))
		h.unregister(c)
	}
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	snap := Snapshot{
		Progress:    h.src.Progress(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if r, ok := h.src.Latest(); ok {
		a := r.Analysis
		snap.Analysis = &a
		snap.RunID = r.RunID
	}
	return json.Marshal(Message{Event: EventSnapshot, Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages and sends pings. One goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
