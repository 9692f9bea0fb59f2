package kline

import (
	"time"

	"cryptoscope/internal/model"
)

// Closed trims trailing klines that have not closed by now. Binance returns
// the forming kline last, and a dump replayed with an earlier reference time
// may carry several.
func Closed(raw []model.RawKline, now time.Time) []model.RawKline {
	cutoff := now.UnixMilli()
	n := len(raw)
	for n > 0 && raw[n-1].CloseTime >= cutoff {
		n--
	}
	return raw[:n]
}
