package backtest

import (
	"threebar/internal/ledger"
	"threebar/internal/metrics"
	"threebar/internal/strategy"
)

// MetricsObserver counts strategy decisions into m.
func MetricsObserver(m *metrics.Metrics) strategy.Observer {
	return metricsObserver{m: m}
}

type metricsObserver struct{ m *metrics.Metrics }

func (o metricsObserver) Entered(kind strategy.EntryKind, pos ledger.Position) {
	o.m.EntriesTotal.WithLabelValues(pos.Side.String(), string(kind)).Inc()
}

func (o metricsObserver) Exited(reason strategy.ExitReason, _ float64, capital float64) {
	o.m.ExitsTotal.WithLabelValues(string(reason)).Inc()
	o.m.Capital.Set(capital)
}
