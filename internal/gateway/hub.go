// Package gateway pushes snapshots and alert events to dashboard clients over
// websockets and serves the installed state over REST.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cryptoscope/internal/metrics"
	"cryptoscope/internal/model"

	"github.com/gorilla/websocket"
)

// Source exposes the state installed by the last refresh cycle.
type Source interface {
	Snapshots() []model.SymbolSnapshot
	AlertState() model.AlertState
}

// EventHistory serves persisted alert history.
type EventHistory interface {
	RecentEvents(ctx context.Context, limit int) ([]model.AlertEvent, error)
}

const replayCapacity = 500

// Hub manages websocket clients and fans out envelopes to them.
// Alert envelopes carry a monotonic seq and are kept in a replay buffer so
// clients can backfill gaps after a reconnect.
type Hub struct {
	src     Source
	history EventHistory
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay *ReplayBuffer
	now    func() time.Time
}

// NewHub creates a hub. history and m may be nil.
func NewHub(src Source, history EventHistory, m *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		src:     src,
		history: history,
		metrics: m,
		log:     log.With("component", "gateway"),
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replayCapacity),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeWS upgrades the request and registers the client. A last_seq query
// parameter replays buffered alerts newer than that seq.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	lastSeq := parseInt64(r.URL.Query().Get("last_seq"), -1)

	client := &Client{
		conn: conn,
		send: make(chan []byte, replayCapacity+64),
		hub:  h,
		keys: make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	count := h.register(client, lastSeq)
	h.log.Info("ws client connected", "clients", count)

	go client.writePump()
	go client.readPump()
}

// register queues the summary and the replay of alerts newer than lastSeq
// (lastSeq < 0 skips the replay), then makes c visible to broadcasts. Both
// happen under the hub lock, so every live frame follows them and no alert is
// both replayed and pushed.
func (h *Hub) register(c *Client, lastSeq int64) int {
	summary := c.summaryEnvelope()

	h.mu.Lock()
	c.queue(summary)
	if lastSeq >= 0 {
		for _, e := range h.replay.Range(lastSeq+1, h.seq) {
			c.queue(e.Data)
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.setClientGauge(count)
	return count
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	h.setClientGauge(count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the seq of the last broadcast alert.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ReplayRange returns buffered alert envelopes with seq in [from, to].
func (h *Hub) ReplayRange(from, to int64) [][]byte {
	entries := h.replay.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}
