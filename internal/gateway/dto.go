package gateway

import (
	"sort"
	"time"

	"cryptoscope/internal/model"
)

// KeySummary is the compact per-key row of the dashboard table.
type KeySummary struct {
	Symbol     string               `json:"symbol"`
	Timeframe  string               `json:"timeframe"`
	LastClose  float64              `json:"last_close"`
	RSI        *float64             `json:"rsi,omitempty"`
	RSISMA     *float64             `json:"rsi_sma,omitempty"`
	StochK     *float64             `json:"stoch_k,omitempty"`
	StochD     *float64             `json:"stoch_d,omitempty"`
	Profile    model.ProfileSummary `json:"profile"`
	Weekly     model.ProfileSummary `json:"weekly"`
	Monthly    model.ProfileSummary `json:"monthly"`
	Status     model.AlertStatus    `json:"status"`
	ComputedAt time.Time            `json:"computed_at"`
}

func last(pts []model.TimePoint) *float64 {
	if len(pts) == 0 {
		return nil
	}
	v := pts[len(pts)-1].Value
	return &v
}

// Summarize reduces a snapshot to its latest values.
func Summarize(s *model.SymbolSnapshot, status model.AlertStatus) KeySummary {
	if status == "" {
		status = model.StatusNeutral
	}
	ks := KeySummary{
		Symbol:     s.Key.Symbol,
		Timeframe:  s.Key.Timeframe,
		LastClose:  s.LastClose,
		RSI:        last(s.Oscillators.RSI),
		RSISMA:     last(s.Oscillators.SMA),
		StochK:     last(s.Oscillators.StochK),
		StochD:     last(s.Oscillators.StochD),
		Weekly:     s.HTF.Weekly,
		Monthly:    s.HTF.Monthly,
		Status:     status,
		ComputedAt: s.ComputedAt,
	}
	if s.Profile != nil {
		ks.Profile = s.Profile.Summary()
	}
	return ks
}

// Summaries summarizes every snapshot, ordered by symbol then timeframe.
func Summaries(snaps []model.SymbolSnapshot, state model.AlertState) []KeySummary {
	out := make([]KeySummary, len(snaps))
	for i := range snaps {
		out[i] = Summarize(&snaps[i], state[snaps[i].Key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}
