package indicator

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path. The mean
// is summed from the buffer on every update, so equal inputs always give a
// bit-identical output regardless of history.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Update(v float64) {
	s.buf[s.idx] = v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.windowMean()
	}
}

func (s *SMA) windowMean() float64 {
	total := 0.0
	for i := 0; i < s.period; i++ {
		// oldest first
		total += s.buf[(s.idx+i)%s.period]
	}
	return total / float64(s.period)
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }
