package gateway

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptoscope/internal/model"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed keys ("SYMBOL:tf"). Empty means everything.
	subMu sync.RWMutex
	keys  map[string]bool
}

// inbound is a message from the dashboard.
type inbound struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
	Ping int64    `json:"ping"`
}

func (c *Client) wants(key string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.keys) == 0 || c.keys[key]
}

// summaryEnvelope renders the summary of every installed key.
func (c *Client) summaryEnvelope() []byte {
	h := c.hub
	data, _ := json.Marshal(Summaries(h.src.Snapshots(), h.src.AlertState()))
	return buildEnvelope(kindSummary, "", data, h.now(), 0)
}

// queue adds msg to the send buffer, dropping it when the buffer is full.
func (c *Client) queue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

// trySend queues msg unless the client is gone or its buffer is full.
func (c *Client) trySend(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	c.queue(msg)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: queued messages share one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected", "clients", c.hub.ClientCount())
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subscribe(msg.Keys)
		case "UNSUBSCRIBE":
			c.unsubscribe(msg.Keys)
		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]int64{
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.trySend(buildEnvelope(kindPong, "", pong, c.hub.now(), 0))
				continue
			}
			c.sendError("unknown message type " + msg.Type)
		}
	}
}

// subscribe adds every well-formed "SYMBOL:tf" key. Malformed keys are
// reported and skipped.
func (c *Client) subscribe(keys []string) {
	var bad []string
	c.subMu.Lock()
	for _, k := range keys {
		key, ok := model.ParseSeriesKey(k)
		if !ok {
			bad = append(bad, k)
			continue
		}
		c.keys[key.String()] = true
	}
	c.subMu.Unlock()
	if len(bad) > 0 {
		c.sendError("invalid keys: " + strings.Join(bad, ", "))
	}
	c.ackSubscriptions()
}

func (c *Client) unsubscribe(keys []string) {
	c.subMu.Lock()
	for _, k := range keys {
		delete(c.keys, k)
	}
	c.subMu.Unlock()
	c.ackSubscriptions()
}

// ackSubscriptions echoes the current subscription set back to the client.
func (c *Client) ackSubscriptions() {
	c.subMu.RLock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	c.subMu.RUnlock()
	sort.Strings(keys)

	data, _ := json.Marshal(keys)
	c.trySend(buildEnvelope(kindSubscribed, "", data, c.hub.now(), 0))
}

func (c *Client) sendError(msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	c.trySend(buildEnvelope(kindError, "", data, c.hub.now(), 0))
}
