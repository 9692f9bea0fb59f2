package indicator

// StochRSI measures where the latest RSI sits within its own recent range.
// It is fed RSI values (not prices). %K is ready after lookback values and
// %D, the SMA of %K, after lookback+smooth-1.
type StochRSI struct {
	lookback int
	window   []float64 // circular buffer of the last lookback RSI values
	idx      int
	count    int
	k        float64
	d        *SMA
}

// NewStochRSI creates a Stochastic RSI with the given lookback and %D smoothing.
func NewStochRSI(lookback, smooth int) *StochRSI {
	return &StochRSI{
		lookback: lookback,
		window:   make([]float64, lookback),
		d:        NewSMA(smooth),
	}
}

// Update feeds the next RSI value.
func (s *StochRSI) Update(rsi float64) {
	s.window[s.idx] = rsi
	s.idx = (s.idx + 1) % s.lookback
	s.count++

	if s.count < s.lookback {
		return
	}

	lo, hi := s.window[0], s.window[0]
	for _, v := range s.window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	if hi == lo {
		// RSI did not move over the lookback: no position within a range.
		s.k = 50.0
	} else {
		s.k = 100.0 * (rsi - lo) / (hi - lo)
	}
	s.d.Update(s.k)
}

// Value returns %K.
func (s *StochRSI) Value() float64 { return s.k }
func (s *StochRSI) Ready() bool    { return s.count >= s.lookback }

// D returns %D, the moving average of %K.
func (s *StochRSI) D() float64   { return s.d.Value() }
func (s *StochRSI) DReady() bool { return s.d.Ready() }
