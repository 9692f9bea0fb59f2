package indicator

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + v) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Update(v float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	p := float64(s.period)
	s.current = (s.current*(p-1) + v) / p
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }
