package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"threebar/internal/ledger"
	"threebar/internal/model"
)

// RunInfo identifies a finished backtest run.
type RunInfo struct {
	RunID      string
	Strategy   string
	Symbol     string
	Interval   string
	Params     any // serialized as JSON
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal persists finished runs and their trades for audit. A run is
// written once and never resumed.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal tables in dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := open(dbPath, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite open journal: %w", err)
	}
	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// SaveRun writes the run header and every trade record in one transaction.
func (j *Journal) SaveRun(ctx context.Context, info RunInfo, status ledger.Status, report ledger.Report, records []ledger.TradeRecord) error {
	params, err := json.Marshal(info.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	rep, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, strategy, symbol, interval, status, params, report, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, info.RunID, info.Strategy, info.Symbol, info.Interval, status.String(), string(params), string(rep),
		toMillis(info.StartedAt), toMillis(info.FinishedAt))
	if err != nil {
		return fmt.Errorf("sqlite insert run %s: %w", info.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, side, entry_time, entry_price, capital_at_entry, fee,
			leave_time, leave_price, profit, real_profit, price_move_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare trades: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		var leaveTime sql.NullInt64
		if r.LeaveTime != nil {
			leaveTime = sql.NullInt64{Int64: toMillis(*r.LeaveTime), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, info.RunID, i, r.Side.String(), toMillis(r.EntryTime), r.EntryPrice,
			r.CapitalAtEntry, r.Fee, leaveTime, nullFloat(r.LeavePrice), nullFloat(r.Profit),
			nullFloat(r.RealProfit), nullFloat(r.PriceMovePercent))
		if err != nil {
			return fmt.Errorf("sqlite insert trade %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit run: %w", err)
	}
	log.Printf("[journal] saved run %s with %d trades", info.RunID, len(records))
	return nil
}

// Trades returns the trade records of a run in entry order.
func (j *Journal) Trades(ctx context.Context, runID string) ([]ledger.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT side, entry_time, entry_price, capital_at_entry, fee,
			leave_time, leave_price, profit, real_profit, price_move_percent
		FROM trades WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.TradeRecord
	for rows.Next() {
		var (
			r                               ledger.TradeRecord
			side                            string
			entryMs                         int64
			leaveMs                         sql.NullInt64
			leavePrice, profit, real, moveP sql.NullFloat64
		)
		if err := rows.Scan(&side, &entryMs, &r.EntryPrice, &r.CapitalAtEntry, &r.Fee,
			&leaveMs, &leavePrice, &profit, &real, &moveP); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		if r.Side, err = model.ParseSide(side); err != nil {
			return nil, err
		}
		r.EntryTime = fromMillis(entryMs)
		if leaveMs.Valid {
			t := fromMillis(leaveMs.Int64)
			r.LeaveTime = &t
		}
		r.LeavePrice = floatPtr(leavePrice)
		r.Profit = floatPtr(profit)
		r.RealProfit = floatPtr(real)
		r.PriceMovePercent = floatPtr(moveP)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Report returns the stored report and status of a run.
func (j *Journal) Report(ctx context.Context, runID string) (ledger.Report, string, error) {
	var (
		data   string
		status string
		rep    ledger.Report
	)
	err := j.db.QueryRowContext(ctx, `SELECT report, status FROM runs WHERE run_id = ?`, runID).Scan(&data, &status)
	if err != nil {
		return rep, "", fmt.Errorf("sqlite read run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(data), &rep); err != nil {
		return rep, "", fmt.Errorf("unmarshal report: %w", err)
	}
	return rep, status, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
