package backtest

import (
	"fmt"
	"io"
	"time"
)

// PrintSummary writes the boxed end-of-run summary.
func PrintSummary(w io.Writer, res Result) {
	rep := res.Report
	title := "BACKTEST COMPLETE"
	if rep.Halted {
		title = "BACKTEST HALTED (CAPITAL FLOOR)"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  %-40s║\n", title)
	fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Candles evaluated: %-21d║\n", res.Candles)
	fmt.Fprintf(w, "║  Warm-up candles:   %-21d║\n", res.Primed)
	fmt.Fprintf(w, "║  Trades:            %-21d║\n", rep.TradeCount)
	fmt.Fprintf(w, "║  Wins:              %-21d║\n", rep.WinCount)
	fmt.Fprintf(w, "║  Losses:            %-21d║\n", rep.LossCount)
	fmt.Fprintf(w, "║  Final capital:     %-21.2f║\n", rep.FinalCapital)
	fmt.Fprintf(w, "║  Win rate:          %-21s║\n", fmt.Sprintf("%.2f%%", rep.WinRate))
	fmt.Fprintf(w, "║  Return:            %-21s║\n", fmt.Sprintf("%.2f%%", rep.ReturnPercent))
	fmt.Fprintf(w, "║  Fees:              %-21.2f║\n", rep.TotalFees)
	if !res.First.IsZero() {
		fmt.Fprintf(w, "║  From:              %-21s║\n", res.First.UTC().Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "║  To:                %-21s║\n", res.Last.UTC().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "║  Elapsed:           %-21s║\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(w, "╚══════════════════════════════════════════╝")
}
