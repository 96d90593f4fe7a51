package sqlite

import (
	"context"
	"fmt"
	"time"

	"threebar/internal/model"
)

// MissingRanges returns the spans of start times in [from, to] that have no
// stored candle, assuming candles start on multiples of the interval.
func (w *Writer) MissingRanges(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Range, error) {
	step, err := model.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}

	rows, err := w.db.QueryContext(ctx, `
		SELECT open_time FROM klines
		WHERE symbol = ? AND interval = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
	`, symbol, interval, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("sqlite query open_time: %w", err)
	}
	defer rows.Close()

	var stored []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("sqlite scan open_time: %w", err)
		}
		stored = append(stored, fromMillis(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return gaps(stored, from.UTC(), to.UTC(), step), nil
}

// gaps walks ascending start times and reports every missing span.
func gaps(stored []time.Time, from, to time.Time, step time.Duration) []model.Range {
	var out []model.Range
	cur := from
	for _, ts := range stored {
		if ts.Before(cur) {
			continue
		}
		if ts.After(cur) {
			out = append(out, model.Range{From: cur, To: ts.Add(-step)})
		}
		cur = ts.Add(step)
	}
	if !cur.After(to) {
		out = append(out, model.Range{From: cur, To: to})
	}
	return out
}
