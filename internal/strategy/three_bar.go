package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"threebar/internal/indicator"
	"threebar/internal/ledger"
	"threebar/internal/model"
	"threebar/internal/ringbuf"
)

// Params configures ThreeBar. Fee rates are fractions (0.0005 = 5 bps).
type Params struct {
	EntryFee      float64
	LeaveFee      float64
	EMAPeriod     int
	RSIPeriod     int
	RSITop        float64
	RSIBottom     float64
	RSIOverBought float64
	RSIOverSell   float64
	IgnoreRSI     bool
	WindowSize    int // 0 = ringbuf.DefaultCapacity
}

// ThreeBar enters after three consecutive same-direction candles whose
// combined body clears the round-trip fee, filtered by EMA trend and RSI
// zone, and exits when price trades through a symmetric target.
//
// Entry is evaluated against the window as it stood before the incoming
// candle; exit is evaluated against the incoming candle, so a position may
// open and close on the same candle.
type ThreeBar struct {
	p      Params
	ledger *ledger.Ledger
	eng    *indicator.Engine
	win    *ringbuf.Window
	obs    Observer
	log    *slog.Logger

	state State
	pos   ledger.Position
}

// Option customises a ThreeBar.
type Option func(*ThreeBar)

// WithObserver registers an observer for entries and exits.
func WithObserver(o Observer) Option {
	return func(s *ThreeBar) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithLogger sets the logger used for decision tracing at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *ThreeBar) {
		if l != nil {
			s.log = l
		}
	}
}

// NewThreeBar creates the strategy over led, which it owns from now on.
func NewThreeBar(p Params, led *ledger.Ledger, opts ...Option) *ThreeBar {
	size := p.WindowSize
	if size <= 0 {
		size = ringbuf.DefaultCapacity
	}
	s := &ThreeBar{
		p:      p,
		ledger: led,
		eng:    indicator.NewEngine(p.EMAPeriod, p.RSIPeriod),
		win:    ringbuf.New(size),
		obs:    nopObserver{},
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ThreeBar) Name() string           { return "three_bar" }
func (s *ThreeBar) Ledger() *ledger.Ledger { return s.ledger }
func (s *ThreeBar) State() State           { return s.state }

// Position returns the open position with its targets.
func (s *ThreeBar) Position() (ledger.Position, bool) {
	return s.pos, s.state == InPosition
}

// Describe returns the run parameters as journaled with each run.
func (s *ThreeBar) Describe() map[string]any {
	d := map[string]any{
		"entry_fee":       s.p.EntryFee,
		"leave_fee":       s.p.LeaveFee,
		"rsi_top":         s.p.RSITop,
		"rsi_bottom":      s.p.RSIBottom,
		"rsi_over_bought": s.p.RSIOverBought,
		"rsi_over_sell":   s.p.RSIOverSell,
		"ignore_rsi":      s.p.IgnoreRSI,
		"window":          s.win.Cap(),
	}
	for _, ind := range s.eng.Indicators() {
		d[strings.ToLower(ind.Name())+"_period"] = ind.Period()
	}
	return d
}

// Prime pushes candles into the window and indicators only. Every candle is
// validated before any state changes.
func (s *ThreeBar) Prime(candles []model.Candle) error {
	closes := make([]float64, len(candles))
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("prime candle %d: %w", i, err)
		}
		closes[i] = candles[i].Close
	}
	for i := range candles {
		s.win.Push(candles[i])
	}
	if err := s.eng.Prime(closes); err != nil {
		return err
	}
	cur := s.eng.Current()
	s.log.Debug("primed",
		"candles", len(candles),
		"ema", cur.EMA,
		"ema_ready", cur.EMAReady,
		"rsi", cur.RSI,
		"rsi_ready", cur.RSIReady,
	)
	return nil
}

// OnCandle runs one evaluation step.
func (s *ThreeBar) OnCandle(c model.Candle) (ledger.Status, error) {
	if err := c.Validate(); err != nil {
		return s.ledger.Status(), err
	}
	if s.ledger.Halted() {
		return ledger.StatusHalted, nil
	}

	vals, err := s.eng.Peek(c.Close)
	if err != nil {
		return s.ledger.Status(), err
	}

	if s.state == Flat {
		if err := s.evaluateEntry(c, vals); err != nil {
			return s.ledger.Status(), err
		}
	}
	status := ledger.StatusOK
	if s.state == InPosition {
		if status, err = s.evaluateExit(c); err != nil {
			return status, err
		}
	}

	s.win.Push(c)
	if _, _, err := s.eng.Next(c.Close); err != nil {
		return status, err
	}
	return status, nil
}

func (s *ThreeBar) evaluateEntry(c model.Candle, v indicator.Values) error {
	if s.win.Len() < 3 || !v.EMAReady {
		return nil
	}
	if !s.p.IgnoreRSI && !v.RSIReady {
		return nil
	}
	c0, _ := s.win.At(0)
	c1, _ := s.win.At(1)
	c2, _ := s.win.At(2)

	bullish := c2.Bullish() && c1.Bullish() && c0.Bullish()
	bearish := c2.Bearish() && c1.Bearish() && c0.Bearish()
	if !bullish && !bearish {
		return nil
	}

	d := math.Abs(c0.Close - c2.Open)
	if c2.Open <= 0 || d/c2.Open <= s.p.EntryFee+s.p.LeaveFee {
		return nil
	}

	normal := s.p.IgnoreRSI || (v.RSI > s.p.RSIBottom && v.RSI < s.p.RSITop)
	overbought := !s.p.IgnoreRSI && v.RSI >= s.p.RSIOverBought
	oversold := !s.p.IgnoreRSI && v.RSI <= s.p.RSIOverSell
	aboveEMA := c0.Close > v.EMA
	belowEMA := c0.Close < v.EMA

	var (
		side model.Side
		kind EntryKind
	)
	switch {
	case bullish && aboveEMA && normal:
		side, kind = model.Long, EntryTrend
	case bearish && belowEMA && normal:
		side, kind = model.Short, EntryTrend
	case bullish && aboveEMA && overbought:
		side, kind = model.Short, EntryOverbought
	case bearish && belowEMA && oversold:
		side, kind = model.Long, EntryOversold
	default:
		return nil
	}

	price := c0.Close
	if err := s.ledger.Enter(c.StartTime, price, side); err != nil {
		return fmt.Errorf("enter %s at %v: %w", side, price, err)
	}
	pos, _ := s.ledger.Open()
	if side == model.Long {
		pos.TakeProfit, pos.StopLoss = price+d, price-d
	} else {
		pos.TakeProfit, pos.StopLoss = price-d, price+d
	}
	s.pos = pos
	s.state = InPosition

	s.log.Debug("entry",
		"side", side.String(),
		"kind", string(kind),
		"price", price,
		"tp", pos.TakeProfit,
		"sl", pos.StopLoss,
		"range", d,
		"ema", v.EMA,
		"rsi", v.RSI,
		"setup", setupCloses(s.win.Snapshot(3)),
	)
	s.obs.Entered(kind, pos)
	return nil
}

func (s *ThreeBar) evaluateExit(c model.Candle) (ledger.Status, error) {
	var (
		price  float64
		reason ExitReason
	)
	switch {
	case strictlyInside(s.pos.TakeProfit, c.Low, c.High):
		price, reason = s.pos.TakeProfit, ExitTakeProfit
	case strictlyInside(s.pos.StopLoss, c.Low, c.High):
		price, reason = s.pos.StopLoss, ExitStopLoss
	default:
		return ledger.StatusOK, nil
	}

	status, err := s.ledger.Leave(c.CloseTime, price)
	if err != nil {
		return status, fmt.Errorf("leave %s at %v: %w", s.pos.Side, price, err)
	}
	s.state = Flat
	s.pos = ledger.Position{}

	s.log.Debug("exit",
		"reason", string(reason),
		"price", price,
		"capital", s.ledger.Capital(),
		"status", status.String(),
	)
	s.obs.Exited(reason, price, s.ledger.Capital())
	return status, nil
}

// setupCloses lists the pattern's closes oldest first.
func setupCloses(bars []model.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, c := range bars {
		out[len(bars)-1-i] = c.Close
	}
	return out
}

func strictlyInside(x, low, high float64) bool {
	return x > low && x < high
}
