package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCandle is returned when a candle fails boundary validation.
var ErrInvalidCandle = errors.New("invalid candle")

// Candle is one OHLCV bar for a single symbol and interval.
// Prices are float64 quote-asset units as delivered by the exchange.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"` // e.g. "5m"
	StartTime time.Time `json:"start_time"`
	CloseTime time.Time `json:"close_time"`

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	QuoteVolume         float64 `json:"quote_volume"`
	TradeCount          int64   `json:"trade_count"`
	TakerBuyVolume      float64 `json:"taker_buy_volume"`
	TakerBuyQuoteVolume float64 `json:"taker_buy_quote_volume"`
}

// Key returns "symbol:interval".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Interval
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// Validate checks the candle is finite and internally consistent.
// The returned error wraps ErrInvalidCandle.
func (c *Candle) Validate() error {
	fields := [...]struct {
		name string
		v    float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close},
		{"volume", c.Volume}, {"quote_volume", c.QuoteVolume},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite at %s", ErrInvalidCandle, f.name, c.StartTime.Format(time.RFC3339))
		}
		if f.v < 0 {
			return fmt.Errorf("%w: %s is negative at %s", ErrInvalidCandle, f.name, c.StartTime.Format(time.RFC3339))
		}
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("%w: high/low do not bracket open/close at %s", ErrInvalidCandle, c.StartTime.Format(time.RFC3339))
	}
	if !c.CloseTime.After(c.StartTime) {
		return fmt.Errorf("%w: close_time not after start_time at %s", ErrInvalidCandle, c.StartTime.Format(time.RFC3339))
	}
	if c.TradeCount < 0 {
		return fmt.Errorf("%w: negative trade_count at %s", ErrInvalidCandle, c.StartTime.Format(time.RFC3339))
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
