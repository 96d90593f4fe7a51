package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func validCandle() Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Candle{
		Symbol: "BTCUSDT", Interval: "5m",
		StartTime: start, CloseTime: start.Add(5*time.Minute - time.Millisecond),
		Open: 100, High: 105, Low: 99, Close: 104, Volume: 12, QuoteVolume: 1200, TradeCount: 40,
	}
}

func TestCandle_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Candle)
		ok     bool
	}{
		{"valid", func(c *Candle) {}, true},
		{"nan close", func(c *Candle) { c.Close = math.NaN() }, false},
		{"inf high", func(c *Candle) { c.High = math.Inf(1) }, false},
		{"negative volume", func(c *Candle) { c.Volume = -1 }, false},
		{"high below close", func(c *Candle) { c.High = 103 }, false},
		{"low above open", func(c *Candle) { c.Low = 101 }, false},
		{"close before start", func(c *Candle) { c.CloseTime = c.StartTime }, false},
		{"negative trades", func(c *Candle) { c.TradeCount = -3 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCandle()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidCandle) {
				t.Fatalf("expected ErrInvalidCandle, got %v", err)
			}
		})
	}
}

func TestCandle_Direction(t *testing.T) {
	c := validCandle()
	if !c.Bullish() || c.Bearish() {
		t.Fatal("expected bullish candle")
	}
	c.Open, c.Close = 104, 100
	if c.Bullish() || !c.Bearish() {
		t.Fatal("expected bearish candle")
	}
	c.Close = c.Open
	if c.Bullish() || c.Bearish() {
		t.Fatal("doji should be neither bullish nor bearish")
	}
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("5m")
	if err != nil || d != 5*time.Minute {
		t.Fatalf("5m: got %v, %v", d, err)
	}
	if _, err := IntervalDuration("7m"); err == nil {
		t.Fatal("expected error for unsupported interval")
	}
}
