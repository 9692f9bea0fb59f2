package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Average gain and loss are two SMMA smoothers fed with per-step deltas, so
// the first value appears after period+1 prices. Update is O(1).
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   *SMMA
	avgLoss   *SMMA
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period:  period,
		avgGain: NewSMMA(period),
		avgLoss: NewSMMA(period),
	}
}

// Update feeds the next close price.
func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price — just record it, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.avgGain.Update(gain)
	r.avgLoss.Update(loss)

	if r.avgGain.Ready() {
		r.current = rsiFromAverages(r.avgGain.Value(), r.avgLoss.Value())
	}
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.avgGain.Ready() }

// rsiFromAverages maps smoothed gain/loss to [0, 100].
// A flat market (no gains, no losses) has no directional bias and reads 50.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
