package indicator

// EMA calculates Exponential Moving Average.
// O(1) per update, no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
// Periods below 1 are treated as 1.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }
func (e *EMA) Period() int    { return e.period }

// Peek computes what Value() would be with an additional price without mutating state.
func (e *EMA) Peek(price float64) float64 {
	next := *e
	next.Update(price)
	return next.current
}

// PeekReady reports whether the EMA would be ready after one more price.
func (e *EMA) PeekReady() bool { return e.count+1 >= e.period }
