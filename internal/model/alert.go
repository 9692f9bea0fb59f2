package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SeriesKey identifies one tracked (symbol, timeframe) series.
type SeriesKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// String returns "SYMBOL:timeframe".
func (k SeriesKey) String() string {
	return k.Symbol + ":" + k.Timeframe
}

// ParseSeriesKey is the inverse of SeriesKey.String.
func ParseSeriesKey(s string) (SeriesKey, bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return SeriesKey{}, false
	}
	return SeriesKey{Symbol: s[:i], Timeframe: s[i+1:]}, true
}

// AlertStatus is the RSI zone last observed for a key.
type AlertStatus string

const (
	StatusNeutral    AlertStatus = "neutral"
	StatusOverbought AlertStatus = "overbought"
	StatusOversold   AlertStatus = "oversold"
)

// Valid reports whether s is one of the known statuses.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusNeutral, StatusOverbought, StatusOversold:
		return true
	}
	return false
}

// AlertState maps every observed key to its last status.
type AlertState map[SeriesKey]AlertStatus

// Clone returns an independent copy.
func (s AlertState) Clone() AlertState {
	cp := make(AlertState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// AlertEvent is emitted when a key enters the overbought or oversold zone.
type AlertEvent struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	RSI       float64     `json:"rsi"`
	Kind      AlertStatus `json:"kind"`
	At        time.Time   `json:"at"`
}

// Key returns the series key of the event.
func (e *AlertEvent) Key() SeriesKey {
	return SeriesKey{Symbol: e.Symbol, Timeframe: e.Timeframe}
}

// JSON returns the JSON-encoded event.
func (e *AlertEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Reading is the latest RSI value of a key in one refresh cycle.
type Reading struct {
	Key SeriesKey
	RSI float64
}
