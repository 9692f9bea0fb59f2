package model

import "time"

// TimePoint is one value of a derived series, stamped with the open time of
// the candle that produced it.
type TimePoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// OscillatorSeries holds RSI, its SMA and the Stochastic RSI lines.
// Each series starts at the first candle for which it is defined.
type OscillatorSeries struct {
	RSI    []TimePoint `json:"rsi"`
	SMA    []TimePoint `json:"sma"`
	StochK []TimePoint `json:"stoch_k"`
	StochD []TimePoint `json:"stoch_d"`
}

// LatestRSI returns the last RSI point, if any.
func (s *OscillatorSeries) LatestRSI() (TimePoint, bool) {
	if len(s.RSI) == 0 {
		return TimePoint{}, false
	}
	return s.RSI[len(s.RSI)-1], true
}
