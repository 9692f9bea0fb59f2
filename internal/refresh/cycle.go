package refresh

import (
	"errors"
	"sort"
	"time"

	"cryptoscope/internal/metrics"
	"cryptoscope/internal/model"
)

// KeyFailure records why a key produced no snapshot in a cycle.
type KeyFailure struct {
	Key    model.SeriesKey `json:"key"`
	Reason string          `json:"reason"`
	Error  string          `json:"error"`
}

// Cycle is the installed result of one refresh. It is immutable once
// installed; readers may hold on to it freely.
type Cycle struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	snapshots map[model.SeriesKey]model.SymbolSnapshot
	Failures  []KeyFailure
}

// Snapshot returns the snapshot of key, which may come from an earlier
// cycle if the key failed in this one.
func (c *Cycle) Snapshot(key model.SeriesKey) (model.SymbolSnapshot, bool) {
	s, ok := c.snapshots[key]
	return s, ok
}

// Snapshots returns every snapshot ordered by key.
func (c *Cycle) Snapshots() []model.SymbolSnapshot {
	out := make([]model.SymbolSnapshot, 0, len(c.snapshots))
	for _, s := range c.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Timeframe < b.Timeframe
	})
	return out
}

// Len returns the number of keys with a snapshot.
func (c *Cycle) Len() int { return len(c.snapshots) }

// merge builds the next generation: fresh snapshots replace old ones, keys
// that failed keep what prev had.
func merge(prev *Cycle, fresh []model.SymbolSnapshot) map[model.SeriesKey]model.SymbolSnapshot {
	next := make(map[model.SeriesKey]model.SymbolSnapshot, len(fresh))
	if prev != nil {
		for k, s := range prev.snapshots {
			next[k] = s
		}
	}
	for _, s := range fresh {
		next[s.Key] = s
	}
	return next
}

// failureReason maps an analysis or fetch error to a metrics label.
func failureReason(err error) string {
	var fe *fetchError
	switch {
	case errors.As(err, &fe):
		return metrics.ReasonFetch
	case errors.Is(err, model.ErrMalformedCandle):
		return metrics.ReasonMalformed
	case errors.Is(err, model.ErrEmptyInput):
		return metrics.ReasonEmpty
	default:
		return metrics.ReasonOther
	}
}

// fetchError marks a candle source failure.
type fetchError struct{ err error }

func (e *fetchError) Error() string { return "fetch: " + e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }
