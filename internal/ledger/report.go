package ledger

import (
	"fmt"
	"strings"
)

// Report is the aggregate view of a ledger.
type Report struct {
	TradeCount     int     `json:"trade_count"`
	WinCount       int     `json:"win_count"`
	LossCount      int     `json:"loss_count"`
	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	TotalProfit    float64 `json:"total_profit"`
	WinRate        float64 `json:"win_rate"`       // percent; 0 with no trades
	ReturnPercent  float64 `json:"return_percent"` // percent of initial capital
	TotalFees      float64 `json:"total_fees"`
	Halted         bool    `json:"halted"`
}

// Report aggregates the records. It is read-only and valid after a halt.
func (l *Ledger) Report() Report {
	r := Report{
		TradeCount:     len(l.records),
		InitialCapital: l.cfg.InitialCapital,
		FinalCapital:   l.capital,
		Halted:         l.halted,
	}
	for i := range l.records {
		rec := &l.records[i]
		r.TotalFees += rec.Fee
		if rec.RealProfit == nil {
			continue
		}
		real := *rec.RealProfit
		r.TotalProfit += real
		switch {
		case real > 0:
			r.WinCount++
		case real < 0:
			r.LossCount++
		}
	}
	if r.TradeCount > 0 {
		r.WinRate = float64(r.WinCount) / float64(r.TradeCount) * 100
		if r.InitialCapital > 0 {
			r.ReturnPercent = r.TotalProfit / r.InitialCapital * 100
		}
	}
	return r
}

// String renders the report as the plain multi-line summary.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trades:        %d\n", r.TradeCount)
	fmt.Fprintf(&b, "Wins:          %d\n", r.WinCount)
	fmt.Fprintf(&b, "Losses:        %d\n", r.LossCount)
	fmt.Fprintf(&b, "Final capital: %.2f\n", r.FinalCapital)
	fmt.Fprintf(&b, "Win rate:      %.2f%%\n", r.WinRate)
	fmt.Fprintf(&b, "Return:        %.2f%%\n", r.ReturnPercent)
	fmt.Fprintf(&b, "Fees:          %.2f\n", r.TotalFees)
	return b.String()
}
