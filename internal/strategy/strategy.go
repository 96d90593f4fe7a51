// Package strategy implements the three-bar candlestick pattern strategy.
//
// A strategy receives validated candles one at a time, decides entries and
// exits against a recent-candle window plus EMA/RSI filters, and records
// every decision in a ledger.Ledger it owns exclusively.
package strategy

import (
	"threebar/internal/ledger"
	"threebar/internal/model"
)

// Strategy is the interface the backtest driver runs.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Prime feeds warm-up candles into indicators and the window without
	// evaluating entries or exits.
	Prime(candles []model.Candle) error

	// OnCandle evaluates one candle. Candles must arrive in ascending
	// StartTime order. StatusHalted means no further candles are accepted.
	OnCandle(c model.Candle) (ledger.Status, error)

	// Ledger exposes the trade ledger for reporting.
	Ledger() *ledger.Ledger
}

// State is the position state of a strategy.
type State int

const (
	Flat State = iota
	InPosition
)

func (s State) String() string {
	if s == InPosition {
		return "in_position"
	}
	return "flat"
}

// ExitReason says which target closed a position.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
)

// EntryKind names the rule that opened a position.
type EntryKind string

const (
	EntryTrend      EntryKind = "trend"
	EntryOverbought EntryKind = "overbought"
	EntryOversold   EntryKind = "oversold"
)

// Observer receives strategy decisions. Metrics and tests hook in here.
type Observer interface {
	Entered(kind EntryKind, pos ledger.Position)
	Exited(reason ExitReason, price float64, capital float64)
}

type nopObserver struct{}

func (nopObserver) Entered(EntryKind, ledger.Position)    {}
func (nopObserver) Exited(ExitReason, float64, float64) {}
