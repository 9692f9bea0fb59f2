package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"cryptoscope/internal/model"
)

// Envelope kinds.
const (
	kindAlert      = "alert"
	kindSnapshot   = "snapshot"
	kindSummary    = "summary"
	kindSubscribed = "subscribed"
	kindPong       = "pong"
	kindError      = "error"
)

// envelope is the decoded form of a broadcast message.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq,omitempty"`
}

// buildEnvelope hand-crafts the envelope JSON; data must already be valid
// JSON. seq 0 is omitted.
func buildEnvelope(kind, channel string, data []byte, ts time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, '"')
	if channel != "" {
		buf = append(buf, `,"channel":`...)
		buf = strconv.AppendQuote(buf, channel)
	}
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, '"')
	if seq > 0 {
		buf = append(buf, `,"seq":`...)
		buf = strconv.AppendInt(buf, seq, 10)
	}
	buf = append(buf, '}')
	return buf
}

// BroadcastAlert assigns the next seq to ev, buffers it for replay and sends
// it to every client subscribed to its key.
func (h *Hub) BroadcastAlert(ev model.AlertEvent) {
	now := h.now()
	if h.metrics != nil && !ev.At.IsZero() {
		if d := now.Sub(ev.At); d >= 0 {
			h.metrics.AlertLatency.Observe(d.Seconds())
		}
	}

	key := ev.Key().String()

	// Seq assignment, replay and fan-out share one critical section so a
	// client registering concurrently sees each alert exactly once.
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	seq := h.seq
	buf := buildEnvelope(kindAlert, key, ev.JSON(), now, seq)
	h.replay.Push(seq, buf)
	h.fanOutLocked(key, buf)
}

// BroadcastSnapshots sends each snapshot to the clients subscribed to its key.
func (h *Hub) BroadcastSnapshots(snaps []model.SymbolSnapshot) {
	now := h.now()
	for i := range snaps {
		key := snaps[i].Key.String()
		h.fanOut(key, buildEnvelope(kindSnapshot, key, snaps[i].JSON(), now, 0))
	}
}

func (h *Hub) fanOut(key string, buf []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.fanOutLocked(key, buf)
}

// fanOutLocked sends buf to subscribed clients. Callers hold h.mu. A slow
// client drops the frame rather than stalling the broadcaster.
func (h *Hub) fanOutLocked(key string, buf []byte) {
	for client := range h.clients {
		if client.wants(key) {
			client.queue(buf)
		}
	}
}
