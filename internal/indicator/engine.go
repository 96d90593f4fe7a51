package indicator

import "fmt"

// Values is one EMA/RSI reading.
type Values struct {
	EMA      float64 `json:"ema"`
	RSI      float64 `json:"rsi"`
	EMAReady bool    `json:"ema_ready"`
	RSIReady bool    `json:"rsi_ready"`
}

// Engine advances the EMA and RSI pair the strategy consults.
// Single-goroutine use only; no locks.
type Engine struct {
	ema *EMA
	rsi *RSI
}

// NewEngine creates an engine with the given EMA and RSI periods.
func NewEngine(emaPeriod, rsiPeriod int) *Engine {
	return &Engine{
		ema: NewEMA(emaPeriod),
		rsi: NewRSI(rsiPeriod),
	}
}

// Next feeds price into both indicators and returns the updated values.
// A non-finite price is rejected before any state changes.
func (e *Engine) Next(price float64) (ema, rsi float64, err error) {
	if !finite(price) {
		return 0, 0, fmt.Errorf("%w: %v", ErrNonFinite, price)
	}
	e.ema.Update(price)
	e.rsi.Update(price)
	return e.ema.Value(), e.rsi.Value(), nil
}

// Peek returns the values Next(price) would produce without mutating state.
func (e *Engine) Peek(price float64) (Values, error) {
	if !finite(price) {
		return Values{}, fmt.Errorf("%w: %v", ErrNonFinite, price)
	}
	return Values{
		EMA:      e.ema.Peek(price),
		RSI:      e.rsi.Peek(price),
		EMAReady: e.ema.PeekReady(),
		RSIReady: e.rsi.PeekReady(),
	}, nil
}

// Prime feeds warm-up prices. It stops at the first non-finite price.
func (e *Engine) Prime(prices []float64) error {
	for i, p := range prices {
		if _, _, err := e.Next(p); err != nil {
			return fmt.Errorf("prime at %d: %w", i, err)
		}
	}
	return nil
}

// Current returns the latest values without feeding a price.
func (e *Engine) Current() Values {
	return Values{
		EMA:      e.ema.Value(),
		RSI:      e.rsi.Value(),
		EMAReady: e.ema.Ready(),
		RSIReady: e.rsi.Ready(),
	}
}

// Indicators returns the EMA and RSI, in that order.
func (e *Engine) Indicators() []Indicator {
	return []Indicator{e.ema, e.rsi}
}
