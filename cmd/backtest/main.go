// cmd/backtest runs the three-bar strategy over historical or live klines
// and prints the trade report.
//
// Usage:
//
//	go run ./cmd/backtest -config backtest.yaml -source sqlite -symbol BTCUSDT -interval 5m
//	go run ./cmd/backtest -source archive -archive BTCUSDT-5m-2024-01.zip,BTCUSDT-5m-2024-02.zip
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"threebar/config"
	"threebar/internal/backtest"
	"threebar/internal/ledger"
	"threebar/internal/logger"
	"threebar/internal/metrics"
	"threebar/internal/notification"
	redisstore "threebar/internal/store/redis"
	sqlitestore "threebar/internal/store/sqlite"
	"threebar/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to a YAML/TOML/JSON config file")
	source := flag.String("source", "", "Candle source: sqlite|redis|binance|ws|archive")
	symbol := flag.String("symbol", "", "Symbol, e.g. BTCUSDT")
	interval := flag.String("interval", "", "Kline interval, e.g. 5m")
	from := flag.String("from", "", "Start (YYYY-MM-DD or RFC 3339)")
	to := flag.String("to", "", "End (YYYY-MM-DD or RFC 3339)")
	archives := flag.String("archive", "", "Comma-separated archive zip/csv paths (source=archive)")
	journal := flag.Bool("journal", false, "Persist the run and its trades to the journal database")
	publish := flag.Bool("publish", false, "Publish the report to Redis")
	metricsAddr := flag.String("metrics", "", "Serve /metrics and /healthz on this address")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	applyFlags(cfg, map[string]string{
		"source": *source, "symbol": *symbol, "interval": *interval,
		"from": *from, "to": *to, "metrics": *metricsAddr,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	logger.Init("backtest", logger.ParseLevel(cfg.Log.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := logger.GenerateRunID(cfg.Backtest.Symbol, time.Now())
	ctx = logger.WithRunID(ctx, runID)

	if err := run(ctx, cfg, splitList(*archives), *journal, *publish); err != nil {
		slog.Error("backtest failed", append(logger.Attrs(ctx), "error", err)...)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, archives []string, journal, publish bool) error {
	bt := cfg.Backtest
	from, to, err := bt.Range()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(bt.Source)
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, health, reg)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(shutdownCtx)
		}()
	}

	src, err := openSource(cfg, sourceArgs{from: from, to: to, archives: archives, metrics: m})
	if err != nil {
		return err
	}
	defer src.close()
	if cfg.Metrics.Addr != "" && (src.db != nil || src.rdb != nil) {
		health.StartLivenessChecker(ctx, src.rdb, src.db, 10*time.Second)
	}

	led := ledger.New(ledger.Config{
		EntryFee:       cfg.Strategy.EntryFeePercent,
		LeaveFee:       cfg.Strategy.LeaveFeePercent,
		InitialCapital: cfg.Ledger.InitialCapital,
		CapitalFloor:   cfg.Ledger.CapitalFloor,
	})
	params := strategy.Params{
		EntryFee:      cfg.Strategy.EntryFeePercent,
		LeaveFee:      cfg.Strategy.LeaveFeePercent,
		EMAPeriod:     cfg.Strategy.EMAPeriod,
		RSIPeriod:     cfg.Strategy.RSIPeriod,
		RSITop:        cfg.Strategy.RSITop,
		RSIBottom:     cfg.Strategy.RSIBottom,
		RSIOverBought: cfg.Strategy.RSIOverBought,
		RSIOverSell:   cfg.Strategy.RSIOverSell,
		IgnoreRSI:     cfg.Strategy.IgnoreRSI,
	}
	strat := strategy.NewThreeBar(params, led,
		strategy.WithObserver(backtest.MetricsObserver(m)),
		strategy.WithLogger(slog.Default().With(logger.Attrs(ctx)...)),
	)

	runner := backtest.New(backtest.Config{
		QueueSize: bt.QueueSize,
		Warmup:    bt.WarmupCandles,
		Speed:     bt.Speed,
	}, strat, backtest.WithMetrics(m), backtest.WithHealth(health))

	started := time.Now()
	slog.Info("backtest starting", append(logger.Attrs(ctx),
		"source", bt.Source, "symbol", bt.Symbol, "interval", bt.Interval)...)

	res, err := runner.Run(ctx, src)
	if err != nil {
		return err
	}
	backtest.PrintSummary(os.Stdout, res)

	notifier := notification.FromConfig(cfg.Notify)
	var errs []error
	if res.Status == ledger.StatusHalted {
		alert := notification.HaltAlert(res.RunID, res.Report.FinalCapital, cfg.Ledger.CapitalFloor)
		if err := notifier.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	alert := notification.ReportAlert(res.RunID, bt.Symbol, bt.Interval, res.Status, res.Report)
	if err := notifier.Send(ctx, alert); err != nil {
		errs = append(errs, err)
	}

	if journal {
		if err := saveJournal(ctx, cfg, strat.Describe(), res, started); err != nil {
			errs = append(errs, err)
		}
	}
	if publish {
		if err := publishReport(ctx, cfg, m, res); err != nil {
			errs = append(errs, err)
		}
	}
	// Delivery failures are reported but do not fail a finished run.
	if err := errors.Join(errs...); err != nil {
		slog.Warn("post-run delivery failed", append(logger.Attrs(ctx), "error", err)...)
	}
	return nil
}

func saveJournal(ctx context.Context, cfg *config.Config, params map[string]any, res backtest.Result, started time.Time) error {
	j, err := sqlitestore.NewJournal(cfg.SQLite.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()
	info := sqlitestore.RunInfo{
		RunID:      res.RunID,
		Strategy:   "three_bar",
		Symbol:     cfg.Backtest.Symbol,
		Interval:   cfg.Backtest.Interval,
		Params:     params,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	return j.SaveRun(ctx, info, res.Status, res.Report, res.Records)
}

func publishReport(ctx context.Context, cfg *config.Config, m *metrics.Metrics, res backtest.Result) error {
	w, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer w.Close()
	w.ObserveWrites(m.RedisWriteDur)
	return w.PublishReport(ctx, res.RunID, res.Status, res.Report)
}

// applyFlags overrides config values with non-empty flag values.
func applyFlags(cfg *config.Config, flags map[string]string) {
	set := func(dst *string, key string) {
		if v := flags[key]; v != "" {
			*dst = v
		}
	}
	set(&cfg.Backtest.Source, "source")
	set(&cfg.Backtest.Symbol, "symbol")
	set(&cfg.Backtest.Interval, "interval")
	set(&cfg.Backtest.From, "from")
	set(&cfg.Backtest.To, "to")
	set(&cfg.Metrics.Addr, "metrics")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
