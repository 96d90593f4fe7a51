package model

import (
	"context"
	"time"
)

// ── Storage / feed port interfaces ──
// These decouple the backtest driver from concrete candle sources
// (SQLite, Redis Streams, Binance REST, Binance websocket, archive files).

// CandleSource emits candles for one symbol and interval in ascending
// StartTime order into out. Implementations must block on a full out
// channel rather than drop, and must return when ctx is done.
// The caller owns out and closes it after Stream returns.
type CandleSource interface {
	Stream(ctx context.Context, out chan<- Candle) error
}

// CandleWriter persists candles.
type CandleWriter interface {
	WriteCandles(ctx context.Context, candles []Candle) (int, error)
	Close() error
}

// Range is a closed interval [From, To] of candle start times.
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SourceFunc adapts a plain function to CandleSource.
type SourceFunc func(ctx context.Context, out chan<- Candle) error

// Stream calls f.
func (f SourceFunc) Stream(ctx context.Context, out chan<- Candle) error {
	return f(ctx, out)
}

// SliceSource replays an in-memory slice. Used for tests and archive imports.
type SliceSource []Candle

// Stream emits every candle, blocking on a full channel.
func (s SliceSource) Stream(ctx context.Context, out chan<- Candle) error {
	for _, c := range s {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- c:
		}
	}
	return nil
}
