// Package calendar selects the UTC calendar windows used for higher-timeframe
// reference levels. Crypto markets trade around the clock, so there are no
// sessions or holidays: weeks start Monday 00:00 UTC and months on the 1st.
package calendar

import (
	"fmt"
	"time"

	"cryptoscope/internal/model"
)

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Filter returns the klines whose open time lies inside the window,
// preserving order.
func (w Window) Filter(raw []model.RawKline) []model.RawKline {
	out := make([]model.RawKline, 0, len(raw))
	for i := range raw {
		if w.Contains(time.UnixMilli(raw[i].OpenTime)) {
			out = append(out, raw[i])
		}
	}
	return out
}

// String renders the window as a half-open interval.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
}

// StartOfWeek returns Monday 00:00 UTC of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	u := t.UTC()
	offset := (int(u.Weekday()) + 6) % 7 // Monday → 0, Sunday → 6
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// StartOfMonth returns the 1st of t's month at 00:00 UTC.
func StartOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousWeek returns the last complete Monday-to-Monday week before now.
func PreviousWeek(now time.Time) Window {
	to := StartOfWeek(now)
	return Window{From: to.AddDate(0, 0, -7), To: to}
}

// PreviousMonth returns the last complete calendar month before now.
func PreviousMonth(now time.Time) Window {
	to := StartOfMonth(now)
	return Window{From: to.AddDate(0, -1, 0), To: to}
}

// MaxKlines returns an upper bound on the number of klines of length step
// that open inside the window.
func (w Window) MaxKlines(step time.Duration) int {
	if step <= 0 || !w.To.After(w.From) {
		return 0
	}
	return int((w.To.Sub(w.From) + step - 1) / step)
}

// intervals are the Binance kline intervals. A month reports its shortest
// length.
var intervals = map[string]time.Duration{
	"1m": time.Minute, "3m": 3 * time.Minute, "5m": 5 * time.Minute,
	"15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "2h": 2 * time.Hour, "4h": 4 * time.Hour, "6h": 6 * time.Hour,
	"8h": 8 * time.Hour, "12h": 12 * time.Hour,
	"1d": 24 * time.Hour, "3d": 72 * time.Hour, "1w": 7 * 24 * time.Hour,
	"1M": 28 * 24 * time.Hour,
}

// IntervalDuration returns the length of a Binance kline interval.
func IntervalDuration(tf string) (time.Duration, bool) {
	d, ok := intervals[tf]
	return d, ok
}
