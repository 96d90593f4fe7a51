package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"threebar/internal/model"
)

const readPageSize = 5000

// Reader provides read-only access to stored candles.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles returns candles with from <= open_time <= to, ascending.
// A zero from or to leaves that side unbounded.
func (r *Reader) ReadCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Candle, error) {
	var out []model.Candle
	err := r.scan(ctx, symbol, interval, from, to, func(c model.Candle) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// Count returns the number of stored candles for symbol and interval.
func (r *Reader) Count(ctx context.Context, symbol, interval string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM klines WHERE symbol = ? AND interval = ?`, symbol, interval,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count klines: %w", err)
	}
	return n, nil
}

// Source returns a model.CandleSource over the stored range.
func (r *Reader) Source(symbol, interval string, from, to time.Time) model.CandleSource {
	return model.SourceFunc(func(ctx context.Context, out chan<- model.Candle) error {
		return r.scan(ctx, symbol, interval, from, to, func(c model.Candle) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- c:
				return nil
			}
		})
	})
}

// scan pages through the range by open_time so large series never sit in memory.
func (r *Reader) scan(ctx context.Context, symbol, interval string, from, to time.Time, fn func(model.Candle) error) error {
	lo := int64(math.MinInt64)
	if !from.IsZero() {
		lo = toMillis(from) - 1
	}
	hi := int64(math.MaxInt64)
	if !to.IsZero() {
		hi = toMillis(to)
	}

	for {
		page, err := r.page(ctx, symbol, interval, lo, hi)
		if err != nil {
			return err
		}
		for _, c := range page {
			if err := fn(c); err != nil {
				return err
			}
		}
		if len(page) < readPageSize {
			return nil
		}
		lo = toMillis(page[len(page)-1].StartTime)
	}
}

// page reads up to readPageSize candles with lo < open_time <= hi.
func (r *Reader) page(ctx context.Context, symbol, interval string, lo, hi int64) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, quote_volume, trades,
			taker_buy_volume, taker_buy_quote_volume
		FROM klines
		WHERE symbol = ? AND interval = ? AND open_time > ? AND open_time <= ?
		ORDER BY open_time ASC
		LIMIT ?
	`, symbol, interval, lo, hi, readPageSize)
	if err != nil {
		return nil, fmt.Errorf("sqlite query klines: %w", err)
	}
	defer rows.Close()

	candles := make([]model.Candle, 0, readPageSize)
	for rows.Next() {
		c := model.Candle{Symbol: symbol, Interval: interval}
		var openMs, closeMs int64
		if err := rows.Scan(&openMs, &closeMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.QuoteVolume, &c.TradeCount, &c.TakerBuyVolume, &c.TakerBuyQuoteVolume); err != nil {
			return nil, fmt.Errorf("sqlite scan klines: %w", err)
		}
		c.StartTime = fromMillis(openMs)
		c.CloseTime = fromMillis(closeMs)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
