package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for a backtest run.
type Metrics struct {
	CandlesTotal   prometheus.Counter
	InvalidCandles prometheus.Counter
	StepDur        prometheus.Histogram

	// Strategy decisions
	EntriesTotal *prometheus.CounterVec // labels: side, kind
	ExitsTotal   *prometheus.CounterVec // labels: reason

	// Ledger state
	Capital prometheus.Gauge
	Halted  prometheus.Gauge // 0=running, 1=halted

	// Backpressure between source and strategy
	QueueSaturationPct prometheus.Gauge
	QueueLen           prometheus.Gauge

	// Collaborators
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram
	RESTRequests    *prometheus.CounterVec // labels: endpoint, outcome
	WSReconnects    prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_candles_total",
			Help: "Total candles evaluated by the strategy",
		}),
		InvalidCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_invalid_candles_total",
			Help: "Candles rejected at the strategy boundary",
		}),
		StepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_strategy_step_duration_seconds",
			Help:    "Strategy evaluation latency per candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_entries_total",
			Help: "Positions opened (by side and entry rule)",
		}, []string{"side", "kind"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_exits_total",
			Help: "Positions closed (by exit reason)",
		}, []string{"reason"}),

		Capital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_capital",
			Help: "Running capital after the last closed trade",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_halted",
			Help: "Capital floor breached (0=running, 1=halted)",
		}),

		QueueSaturationPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_queue_saturation_pct",
			Help: "Candle queue fill percentage (len/cap * 100)",
		}),
		QueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_queue_len",
			Help: "Candles waiting between source and strategy",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RESTRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_rest_requests_total",
			Help: "Exchange REST requests (by endpoint and outcome)",
		}, []string{"endpoint", "outcome"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.InvalidCandles,
		m.StepDur,
		m.EntriesTotal,
		m.ExitsTotal,
		m.Capital,
		m.Halted,
		m.QueueSaturationPct,
		m.QueueLen,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.RESTRequests,
		m.WSReconnects,
	)

	return m
}

// ObserveQueue records channel occupancy.
func (m *Metrics) ObserveQueue(length, capacity int) {
	m.QueueLen.Set(float64(length))
	if capacity > 0 {
		m.QueueSaturationPct.Set(float64(length) / float64(capacity) * 100)
	}
}

// SetHalted flips the halted gauge.
func (m *Metrics) SetHalted(v bool) {
	if v {
		m.Halted.Set(1)
		return
	}
	m.Halted.Set(0)
}
