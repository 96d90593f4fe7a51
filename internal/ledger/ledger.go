// Package ledger records positions opened and closed by a strategy, applies
// entry and leave fees, and tracks running capital against a hard floor.
//
// A Ledger is single-owner: the strategy evaluation path is its only writer,
// so it carries no lock.
package ledger

import (
	"errors"
	"math"
	"time"

	"threebar/internal/model"
)

var (
	// ErrHalted is returned by Enter once capital has breached the floor.
	ErrHalted = errors.New("ledger halted")
	// ErrPositionOpen is returned by Enter while the last record is unfinalized.
	ErrPositionOpen = errors.New("position already open")
	// ErrInvalidPrice is returned for non-positive or non-finite prices.
	ErrInvalidPrice = errors.New("invalid price")
)

// Status is the outcome of a ledger mutation as seen by the run loop.
type Status int

const (
	StatusOK Status = iota
	StatusHalted
)

func (s Status) String() string {
	if s == StatusHalted {
		return "halted"
	}
	return "ok"
}

// Defaults used by the original backtest runs.
const (
	DefaultInitialCapital = 1000.0
	DefaultCapitalFloor   = 1.0
)

// Config holds fee rates and capital bounds. Fee rates are fractions of
// capital (0.0005 = 5 bps).
type Config struct {
	EntryFee       float64
	LeaveFee       float64
	InitialCapital float64
	CapitalFloor   float64
}

// TradeRecord is one position, open or finalized. Pointer fields are nil
// until the position is left. A finalized record is never mutated again.
type TradeRecord struct {
	EntryTime      time.Time  `json:"entry_time"`
	EntryPrice     float64    `json:"entry_price"`
	Side           model.Side `json:"side"`
	CapitalAtEntry float64    `json:"capital_at_entry"`
	Fee            float64    `json:"fee"` // entry fee until left, then entry + leave

	LeaveTime        *time.Time `json:"leave_time,omitempty"`
	LeavePrice       *float64   `json:"leave_price,omitempty"`
	Profit           *float64   `json:"profit,omitempty"`
	RealProfit       *float64   `json:"real_profit,omitempty"`
	PriceMovePercent *float64   `json:"price_move_percent,omitempty"`
}

// Finalized reports whether the record has been left.
func (r *TradeRecord) Finalized() bool { return r.LeaveTime != nil }

// Ledger is the append-only trade journal plus running capital.
type Ledger struct {
	cfg     Config
	records []TradeRecord
	capital float64
	halted  bool
}

// DefaultConfig returns a fee-free config with the default capital bounds.
func DefaultConfig() Config {
	return Config{
		InitialCapital: DefaultInitialCapital,
		CapitalFloor:   DefaultCapitalFloor,
	}
}

// New creates a ledger. cfg is used as given; a zero CapitalFloor halts
// only once capital reaches zero.
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:     cfg,
		records: make([]TradeRecord, 0, 256),
		capital: cfg.InitialCapital,
	}
}

// Enter opens a position sized at the full running capital.
// Capital is unchanged until the position is left.
func (l *Ledger) Enter(ts time.Time, price float64, side model.Side) error {
	if l.halted {
		return ErrHalted
	}
	if !validPrice(price) {
		return ErrInvalidPrice
	}
	if _, open := l.Open(); open {
		return ErrPositionOpen
	}
	l.records = append(l.records, TradeRecord{
		EntryTime:      ts,
		EntryPrice:     price,
		Side:           side,
		CapitalAtEntry: l.capital,
		Fee:            l.capital * l.cfg.EntryFee,
	})
	return nil
}

// Leave finalizes the open position at price. Without an open position it
// does nothing and returns StatusOK. An invalid price leaves the record open
// and returns ErrInvalidPrice. When the resulting capital is at or below the
// floor the ledger halts permanently and StatusHalted is returned.
func (l *Ledger) Leave(ts time.Time, price float64) (Status, error) {
	if l.halted {
		return StatusHalted, nil
	}
	if len(l.records) == 0 {
		return StatusOK, nil
	}
	rec := &l.records[len(l.records)-1]
	if rec.Finalized() {
		return StatusOK, nil
	}
	if !validPrice(price) {
		return StatusOK, ErrInvalidPrice
	}

	var profit float64
	switch rec.Side {
	case model.Short:
		profit = (rec.EntryPrice - price) / rec.EntryPrice * rec.CapitalAtEntry
	default:
		profit = (price - rec.EntryPrice) / rec.EntryPrice * rec.CapitalAtEntry
	}
	fee := rec.Fee + rec.CapitalAtEntry*l.cfg.LeaveFee
	real := profit - fee
	move := math.Abs(price-rec.EntryPrice) / rec.EntryPrice * 100

	leaveTime := ts
	leavePrice := price
	rec.LeaveTime = &leaveTime
	rec.LeavePrice = &leavePrice
	rec.Profit = &profit
	rec.Fee = fee
	rec.RealProfit = &real
	rec.PriceMovePercent = &move

	l.capital += real
	if l.capital <= l.cfg.CapitalFloor {
		l.halted = true
		return StatusHalted, nil
	}
	return StatusOK, nil
}

// Open returns the unfinalized position, if any.
func (l *Ledger) Open() (Position, bool) {
	if len(l.records) == 0 {
		return Position{}, false
	}
	rec := l.records[len(l.records)-1]
	if rec.Finalized() {
		return Position{}, false
	}
	return Position{
		EntryTime:      rec.EntryTime,
		EntryPrice:     rec.EntryPrice,
		Side:           rec.Side,
		CapitalAtEntry: rec.CapitalAtEntry,
	}, true
}

// Records returns a copy of all trade records in entry order.
func (l *Ledger) Records() []TradeRecord {
	out := make([]TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Capital returns the running capital.
func (l *Ledger) Capital() float64 { return l.capital }

// Halted reports whether the capital floor has been breached.
func (l *Ledger) Halted() bool { return l.halted }

// Status returns StatusHalted after a floor breach, StatusOK otherwise.
func (l *Ledger) Status() Status {
	if l.halted {
		return StatusHalted
	}
	return StatusOK
}

// Config returns the effective configuration.
func (l *Ledger) Config() Config { return l.cfg }

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
