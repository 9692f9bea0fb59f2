// Package indicator provides oscillator calculations over candle series.
//
// The streaming types (SMA, SMMA, RSI, StochRSI) implement the Indicator
// interface and consume one value at a time. The series functions in
// oscillator.go drive them over a whole window and collect the output, so a
// refresh recomputes everything from the supplied candles.
package indicator

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Update feeds the next input value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// step feeds v to ind and returns its value once it is ready.
func step(ind Indicator, v float64) (float64, bool) {
	ind.Update(v)
	if !ind.Ready() {
		return 0, false
	}
	return ind.Value(), true
}
