package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"threebar/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/klines.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Duplicate (symbol, interval, open_time) rows are ignored.
type Writer struct {
	db        *sql.DB
	commitDur prometheus.Observer
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

// ObserveCommits records batch commit latency into h.
func (w *Writer) ObserveCommits(h prometheus.Observer) { w.commitDur = h }

// WriteCandles inserts candles in one transaction and returns how many were new.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO klines (symbol, interval, open_time, close_time, open, high, low, close,
			volume, quote_volume, trades, taker_buy_volume, taker_buy_quote_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range candles {
		res, err := stmt.ExecContext(ctx, c.Symbol, c.Interval, toMillis(c.StartTime), toMillis(c.CloseTime),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume, c.TradeCount,
			c.TakerBuyVolume, c.TakerBuyQuoteVolume)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert %s: %w", c.Key(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	if w.commitDur != nil {
		w.commitDur.Observe(time.Since(start).Seconds())
	}
	return inserted, nil
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batch of candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed; returns the number
// of new rows and the first write error.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) (int, error) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		// Flush with a fresh context so a cancelled run still commits what it has.
		n, err := w.WriteCandles(context.Background(), batch)
		if err != nil {
			return err
		}
		total += n
		log.Printf("[sqlite] committed %d candles (%d new) in %v", len(batch), n, time.Since(start))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if err := flush(); err != nil {
				return total, err
			}
			return total, ctx.Err()

		case candle, ok := <-candleCh:
			if !ok {
				return total, flush()
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				if err := flush(); err != nil {
					return total, err
				}
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			if err := flush(); err != nil {
				return total, err
			}
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastOpenTime returns the newest stored open time for symbol and interval.
// ok is false when nothing is stored.
func (w *Writer) LastOpenTime(ctx context.Context, symbol, interval string) (t time.Time, ok bool, err error) {
	var ms sql.NullInt64
	err = w.db.QueryRowContext(ctx,
		`SELECT MAX(open_time) FROM klines WHERE symbol = ? AND interval = ?`,
		symbol, interval,
	).Scan(&ms)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite max open_time: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(ms.Int64), true, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
