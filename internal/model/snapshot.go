package model

import (
	"encoding/json"
	"time"
)

// SymbolSnapshot is the full analysis of one key produced by a refresh cycle.
// It is never mutated after it is installed.
type SymbolSnapshot struct {
	Key         SeriesKey        `json:"key"`
	Candles     int              `json:"candles"`
	LastClose   float64          `json:"last_close"`
	Oscillators OscillatorSeries `json:"oscillators"`
	Profile     *VolumeProfile   `json:"profile,omitempty"` // nil when the window cannot be bucketed
	HTF         HTFLevels        `json:"htf"`
	ComputedAt  time.Time        `json:"computed_at"`
}

// Reading returns the latest RSI reading of the snapshot.
func (s *SymbolSnapshot) Reading() (Reading, bool) {
	p, ok := s.Oscillators.LatestRSI()
	if !ok {
		return Reading{}, false
	}
	return Reading{Key: s.Key, RSI: p.Value}, true
}

// JSON returns the JSON-encoded snapshot.
func (s *SymbolSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
