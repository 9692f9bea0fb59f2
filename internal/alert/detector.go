// Package alert tracks per-key RSI zones and emits edge-triggered
// overbought/oversold events.
package alert

import (
	"sync"
	"sync/atomic"
	"time"

	"cryptoscope/internal/model"

	"github.com/google/uuid"
)

// Thresholds are the RSI zone boundaries. Both bounds are inclusive.
type Thresholds struct {
	High float64
	Low  float64
}

// DefaultThresholds are the classic 70/30 RSI zones.
var DefaultThresholds = Thresholds{High: 70, Low: 30}

// Classify maps an RSI value to its zone.
func (t Thresholds) Classify(rsi float64) model.AlertStatus {
	switch {
	case rsi >= t.High:
		return model.StatusOverbought
	case rsi <= t.Low:
		return model.StatusOversold
	default:
		return model.StatusNeutral
	}
}

// Detector holds the alert state of every key ever observed.
//
// Readers call State() at any time and always see one complete generation.
// Evaluate builds the next generation off to the side and swaps it in with
// a single pointer store.
type Detector struct {
	thresholds Thresholds
	state      atomic.Pointer[model.AlertState]

	mu    sync.Mutex // serialises writers
	newID func() string
}

// NewDetector creates a detector with an empty state.
func NewDetector(th Thresholds) *Detector {
	d := &Detector{
		thresholds: th,
		newID:      func() string { return uuid.NewString() },
	}
	empty := model.AlertState{}
	d.state.Store(&empty)
	return d
}

// Restore replaces the current state, typically with what was persisted
// before a restart. Unknown statuses are dropped.
func (d *Detector) Restore(state model.AlertState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(model.AlertState, len(state))
	for k, s := range state {
		if s.Valid() {
			next[k] = s
		}
	}
	d.state.Store(&next)
}

// State returns the current generation. The map must not be modified.
func (d *Detector) State() model.AlertState {
	return *d.state.Load()
}

// Status returns the last status of key, neutral if it was never seen.
func (d *Detector) Status(key model.SeriesKey) model.AlertStatus {
	if s, ok := d.State()[key]; ok {
		return s
	}
	return model.StatusNeutral
}

// Evaluate applies one refresh cycle's readings. Every reading updates its
// key; an event is emitted only when a key enters overbought or oversold
// from a different status. Keys without a reading keep their status.
//
// Events are returned in reading order.
func (d *Detector) Evaluate(readings []model.Reading, at time.Time) []model.AlertEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.State().Clone()
	var events []model.AlertEvent

	for _, r := range readings {
		prev, seen := next[r.Key]
		if !seen {
			prev = model.StatusNeutral
		}
		status := d.thresholds.Classify(r.RSI)
		next[r.Key] = status

		if status == model.StatusNeutral || status == prev {
			continue
		}
		events = append(events, model.AlertEvent{
			ID:        d.newID(),
			Symbol:    r.Key.Symbol,
			Timeframe: r.Key.Timeframe,
			RSI:       r.RSI,
			Kind:      status,
			At:        at,
		})
	}

	d.state.Store(&next)
	return events
}
