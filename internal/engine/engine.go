// Package engine composes the normalizer, oscillators and volume profiles
// into the per-key analysis of one refresh cycle. It performs no I/O and
// is safe to call concurrently.
package engine

import (
	"errors"
	"fmt"
	"time"

	"cryptoscope/internal/indicator"
	"cryptoscope/internal/kline"
	"cryptoscope/internal/model"
	"cryptoscope/internal/profile"
)

// Options tunes the profile resolutions. Zero values fall back to the
// package defaults.
type Options struct {
	Resolution    int
	HTFResolution int
}

// DefaultOptions uses 48 primary and 12 higher-timeframe buckets.
var DefaultOptions = Options{
	Resolution:    profile.DefaultResolution,
	HTFResolution: profile.HTFResolution,
}

func (o Options) withDefaults() Options {
	if o.Resolution == 0 {
		o.Resolution = profile.DefaultResolution
	}
	if o.HTFResolution == 0 {
		o.HTFResolution = profile.HTFResolution
	}
	return o
}

// Input is everything needed to analyze one key. Weekly and Monthly hold the
// klines of the previous calendar week and month; either may be empty.
type Input struct {
	Key     model.SeriesKey
	Primary []model.RawKline
	Weekly  []model.RawKline
	Monthly []model.RawKline
	Now     time.Time
}

// Analyze produces the snapshot of one key.
//
// An empty or malformed primary window is an error. A primary window that
// cannot be bucketed yields a nil Profile, and short HTF windows yield
// absent summaries.
func Analyze(in Input, opts Options) (model.SymbolSnapshot, error) {
	opts = opts.withDefaults()

	candles, err := kline.NormalizeNonEmpty(in.Primary)
	if err != nil {
		return model.SymbolSnapshot{}, fmt.Errorf("%s primary: %w", in.Key, err)
	}

	snap := model.SymbolSnapshot{
		Key:         in.Key,
		Candles:     len(candles),
		LastClose:   candles[len(candles)-1].CloseFloat(),
		Oscillators: indicator.Oscillators(candles),
		ComputedAt:  in.Now,
	}

	vp, err := profile.Build(candles, opts.Resolution)
	switch {
	case err == nil:
		snap.Profile = &vp
	case errors.Is(err, model.ErrInsufficientData):
	default:
		return model.SymbolSnapshot{}, fmt.Errorf("%s profile: %w", in.Key, err)
	}

	weekly, err := kline.Normalize(in.Weekly)
	if err != nil {
		return model.SymbolSnapshot{}, fmt.Errorf("%s weekly: %w", in.Key, err)
	}
	monthly, err := kline.Normalize(in.Monthly)
	if err != nil {
		return model.SymbolSnapshot{}, fmt.Errorf("%s monthly: %w", in.Key, err)
	}
	snap.HTF, err = profile.Aggregate(weekly, monthly, opts.HTFResolution)
	if err != nil {
		return model.SymbolSnapshot{}, fmt.Errorf("%s htf: %w", in.Key, err)
	}

	return snap, nil
}

// Readings extracts the latest RSI of every snapshot that has one, in order.
func Readings(snaps []model.SymbolSnapshot) []model.Reading {
	out := make([]model.Reading, 0, len(snaps))
	for i := range snaps {
		if r, ok := snaps[i].Reading(); ok {
			out = append(out, r)
		}
	}
	return out
}
