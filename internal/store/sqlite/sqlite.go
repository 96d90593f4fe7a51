// Package sqlite persists candle series and finished backtest runs in a
// local SQLite database (WAL mode, batched transactions).
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

func open(path string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS klines (
			symbol                 TEXT    NOT NULL,
			interval               TEXT    NOT NULL,
			open_time              INTEGER NOT NULL,
			close_time             INTEGER NOT NULL,
			open                   REAL    NOT NULL,
			high                   REAL    NOT NULL,
			low                    REAL    NOT NULL,
			close                  REAL    NOT NULL,
			volume                 REAL    NOT NULL,
			quote_volume           REAL    NOT NULL DEFAULT 0,
			trades                 INTEGER NOT NULL DEFAULT 0,
			taker_buy_volume       REAL    NOT NULL DEFAULT 0,
			taker_buy_quote_volume REAL    NOT NULL DEFAULT 0,
			created_at             INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (symbol, interval, open_time)
		);

		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT    PRIMARY KEY,
			strategy    TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			interval    TEXT    NOT NULL,
			status      TEXT    NOT NULL,
			params      TEXT    NOT NULL,
			report      TEXT    NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			run_id             TEXT    NOT NULL,
			seq                INTEGER NOT NULL,
			side               TEXT    NOT NULL,
			entry_time         INTEGER NOT NULL,
			entry_price        REAL    NOT NULL,
			capital_at_entry   REAL    NOT NULL,
			fee                REAL    NOT NULL,
			leave_time         INTEGER,
			leave_price        REAL,
			profit             REAL,
			real_profit        REAL,
			price_move_percent REAL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	`)
	return err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
