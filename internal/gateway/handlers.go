package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"cryptoscope/internal/model"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// RegisterRoutes registers the websocket and REST endpoints on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.ServeWS)

	// GET /api/snapshots[?symbol=BTCUSDT][&tf=1h]
	mux.HandleFunc("/api/snapshots", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
		tf := r.URL.Query().Get("tf")

		snaps := hub.src.Snapshots()
		out := make([]model.SymbolSnapshot, 0, len(snaps))
		for _, s := range snaps {
			if symbol != "" && s.Key.Symbol != symbol {
				continue
			}
			if tf != "" && s.Key.Timeframe != tf {
				continue
			}
			out = append(out, s)
		}
		writeJSON(w, http.StatusOK, out)
	})

	// GET /api/summary
	mux.HandleFunc("/api/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Summaries(hub.src.Snapshots(), hub.src.AlertState()))
	})

	// GET /api/state → {"BTCUSDT:1h": "overbought", ...}
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		state := hub.src.AlertState()
		out := make(map[string]string, len(state))
		for k, s := range state {
			out[k.String()] = string(s)
		}
		writeJSON(w, http.StatusOK, out)
	})

	// GET /api/alerts?from=SEQ[&to=SEQ]: replay buffered alert envelopes.
	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from := parseInt64(q.Get("from"), -1)
		if from < 0 {
			writeError(w, http.StatusBadRequest, "from is required")
			return
		}
		to := parseInt64(q.Get("to"), hub.Seq())
		if to < from {
			writeError(w, http.StatusBadRequest, "to must be >= from")
			return
		}

		envs := hub.ReplayRange(from, to)
		raw := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			raw[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"from":       from,
			"to":         to,
			"oldest_seq": hub.replay.OldestSeq(),
			"envelopes":  raw,
		})
	})

	// GET /api/alerts/recent?limit=50: persisted history.
	mux.HandleFunc("/api/alerts/recent", func(w http.ResponseWriter, r *http.Request) {
		if hub.history == nil {
			writeError(w, http.StatusNotFound, "alert history disabled")
			return
		}
		limit := parseInt64(r.URL.Query().Get("limit"), 50)
		if limit <= 0 || limit > 1000 {
			limit = 50
		}
		events, err := hub.history.RecentEvents(r.Context(), int(limit))
		if err != nil {
			hub.log.Error("recent alerts query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		writeJSON(w, http.StatusOK, events)
	})
}
