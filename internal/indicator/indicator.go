// Package indicator provides incremental technical indicator calculations
// over a stream of closing prices.
//
// All indicators implement the Indicator interface, receiving one price at
// a time and producing float64 values in O(1) per update.
package indicator

import (
	"errors"
	"math"
)

// ErrNonFinite is returned when a NaN or infinite price is fed to an indicator.
var ErrNonFinite = errors.New("indicator: non-finite price")

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Period returns the lookback length.
	Period() int

	// Update feeds a new closing price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if price were added next,
	// WITHOUT mutating internal state.
	Peek(price float64) float64

	// PeekReady reports whether Ready() would hold after one more price.
	PeekReady() bool
}

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*RSI)(nil)
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
