package indicator

import "cryptoscope/internal/model"

const (
	// RSIPeriod is the Wilder RSI period and the window of its SMA.
	RSIPeriod = 14
	// StochLookback is the RSI range window of the Stochastic RSI.
	StochLookback = 14
	// StochSmooth is the %D smoothing window.
	StochSmooth = 3
)

// Oscillators computes RSI, RSI SMA, %K and %D for a normalized candle series.
// Series are empty when the window is too short.
func Oscillators(candles []model.Candle) model.OscillatorSeries {
	rsi, sma := WilderRSI(candles, RSIPeriod)
	k, d := StochRSISeries(rsi, StochLookback, StochSmooth)
	return model.OscillatorSeries{RSI: rsi, SMA: sma, StochK: k, StochD: d}
}

// WilderRSI returns the RSI series of the candle closes and its trailing SMA
// over the same period. The first RSI point belongs to candle index period,
// so len(rsi) == len(candles)-period; the SMA is period-1 points shorter.
func WilderRSI(candles []model.Candle, period int) (rsi, sma []model.TimePoint) {
	if period <= 0 || len(candles) <= period {
		return []model.TimePoint{}, []model.TimePoint{}
	}

	rsi = make([]model.TimePoint, 0, len(candles)-period)
	sma = make([]model.TimePoint, 0, max(len(candles)-2*period+1, 0))

	r := NewRSI(period)
	avg := NewSMA(period)
	for i := range candles {
		v, ok := step(r, candles[i].CloseFloat())
		if !ok {
			continue
		}
		ts := candles[i].OpenTime
		rsi = append(rsi, model.TimePoint{Time: ts, Value: v})

		if m, ok := step(avg, v); ok {
			sma = append(sma, model.TimePoint{Time: ts, Value: m})
		}
	}
	return rsi, sma
}

// StochRSISeries derives %K and %D from an RSI series. %K is lookback-1 points
// shorter than rsi and %D another smooth-1 points shorter.
func StochRSISeries(rsi []model.TimePoint, lookback, smooth int) (k, d []model.TimePoint) {
	if lookback <= 0 || smooth <= 0 || len(rsi) < lookback {
		return []model.TimePoint{}, []model.TimePoint{}
	}

	k = make([]model.TimePoint, 0, len(rsi)-lookback+1)
	d = make([]model.TimePoint, 0, max(len(rsi)-lookback-smooth+2, 0))

	st := NewStochRSI(lookback, smooth)
	for _, p := range rsi {
		kv, ok := step(st, p.Value)
		if !ok {
			continue
		}
		k = append(k, model.TimePoint{Time: p.Time, Value: kv})
		if st.DReady() {
			d = append(d, model.TimePoint{Time: p.Time, Value: st.D()})
		}
	}
	return k, d
}
