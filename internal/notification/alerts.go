package notification

import (
	"fmt"

	"threebar/internal/ledger"
)

// ReportAlert summarises a finished run. Halted runs are critical.
func ReportAlert(runID, symbol, interval string, status ledger.Status, r ledger.Report) Alert {
	a := Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("Backtest %s %s complete", symbol, interval),
		Message: fmt.Sprintf("%d trades, return %.2f%%", r.TradeCount, r.ReturnPercent),
		RunID:   runID,
		Fields: map[string]string{
			"status":        status.String(),
			"trades":        fmt.Sprintf("%d", r.TradeCount),
			"wins":          fmt.Sprintf("%d", r.WinCount),
			"losses":        fmt.Sprintf("%d", r.LossCount),
			"win_rate":      fmt.Sprintf("%.2f%%", r.WinRate),
			"final_capital": fmt.Sprintf("%.4f", r.FinalCapital),
			"total_fees":    fmt.Sprintf("%.4f", r.TotalFees),
		},
	}
	if status == ledger.StatusHalted {
		a.Level = AlertCritical
		a.Title = fmt.Sprintf("Backtest %s %s halted", symbol, interval)
	}
	return a
}

// HaltAlert reports that capital fell to the floor.
func HaltAlert(runID string, capital, floor float64) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   "Capital floor reached",
		Message: fmt.Sprintf("capital %.4f is at or below floor %.4f, run stopped", capital, floor),
		RunID:   runID,
	}
}
