// cmd/fetch fills the SQLite kline store from Binance REST (only the missing
// ranges), from local monthly archive files, or from the public archive
// bucket.
//
// Usage:
//
//	go run ./cmd/fetch -symbol BTCUSDT -interval 5m -from 2024-01-01 -to 2024-03-01
//	go run ./cmd/fetch -archive BTCUSDT-5m-2024-01.zip,BTCUSDT-5m-2024-02.zip
//	go run ./cmd/fetch -symbol BTCUSDT -interval 5m -download
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"threebar/config"
	"threebar/internal/archive"
	"threebar/internal/exchange/binance"
	"threebar/internal/metrics"
	"threebar/internal/model"
	redisstore "threebar/internal/store/redis"
	sqlitestore "threebar/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to a YAML/TOML/JSON config file")
	symbol := flag.String("symbol", "", "Symbol, e.g. BTCUSDT")
	interval := flag.String("interval", "", "Kline interval, e.g. 5m")
	from := flag.String("from", "", "Start (YYYY-MM-DD or RFC 3339), required for REST")
	to := flag.String("to", "", "End (YYYY-MM-DD or RFC 3339), default now")
	archives := flag.String("archive", "", "Comma-separated archive zip/csv paths to import")
	download := flag.Bool("download", false, "Download every monthly archive from data.binance.vision")
	toRedis := flag.Bool("redis", false, "Also append fetched candles to the Redis kline stream")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[fetch] %v", err)
	}
	if *symbol != "" {
		cfg.Backtest.Symbol = *symbol
	}
	if *interval != "" {
		cfg.Backtest.Interval = *interval
	}
	if *from != "" {
		cfg.Backtest.From = *from
	}
	if *to != "" {
		cfg.Backtest.To = *to
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[fetch] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f, err := newFetcher(cfg, *toRedis)
	if err != nil {
		log.Fatalf("[fetch] %v", err)
	}
	defer f.close()

	switch {
	case *archives != "":
		err = f.importFiles(ctx, strings.Split(*archives, ","))
	case *download:
		err = f.downloadArchives(ctx)
	default:
		err = f.fetchREST(ctx)
	}
	if err != nil {
		log.Fatalf("[fetch] %v", err)
	}
	log.Printf("[fetch] done: %d new candles stored", f.stored)
}

type fetcher struct {
	cfg    *config.Config
	sqlite *sqlitestore.Writer
	redis  *redisstore.Writer
	m      *metrics.Metrics
	stored int
}

func newFetcher(cfg *config.Config, toRedis bool) (*fetcher, error) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
	if err != nil {
		return nil, err
	}
	w.ObserveCommits(m.SQLiteCommitDur)
	f := &fetcher{cfg: cfg, sqlite: w, m: m}

	if toRedis {
		rw, err := redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			w.Close()
			return nil, err
		}
		rw.ObserveWrites(m.RedisWriteDur)
		f.redis = rw
	}
	return f, nil
}

func (f *fetcher) close() {
	f.sqlite.Close()
	if f.redis != nil {
		f.redis.Close()
	}
}

// store writes a batch to SQLite and, when enabled, to Redis.
func (f *fetcher) store(ctx context.Context, candles []model.Candle) error {
	n, err := f.sqlite.WriteCandles(ctx, candles)
	if err != nil {
		return err
	}
	f.stored += n
	if f.redis != nil {
		if _, err := f.redis.AppendCandles(ctx, candles); err != nil {
			return err
		}
	}
	return nil
}

func (f *fetcher) importFiles(ctx context.Context, paths []string) error {
	for i := range paths {
		paths[i] = strings.TrimSpace(paths[i])
	}
	bt := f.cfg.Backtest
	candles, err := archive.Load(paths, bt.Symbol, bt.Interval)
	if err != nil {
		return err
	}
	log.Printf("[fetch] imported %d candles from %d files", len(candles), len(paths))
	return f.store(ctx, candles)
}

func (f *fetcher) downloadArchives(ctx context.Context) error {
	d, err := archive.NewDownloader()
	if err != nil {
		return err
	}
	bt := f.cfg.Backtest
	return d.Fetch(ctx, bt.Symbol, bt.Interval, func(candles []model.Candle) error {
		return f.store(ctx, candles)
	})
}

// fetchREST requests only the spans missing from SQLite.
func (f *fetcher) fetchREST(ctx context.Context) error {
	bt := f.cfg.Backtest
	from, to, err := bt.Range()
	if err != nil {
		return err
	}
	if from.IsZero() {
		return fmt.Errorf("-from is required for REST fetches")
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	missing, err := f.sqlite.MissingRanges(ctx, bt.Symbol, bt.Interval, from, to)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		log.Printf("[fetch] %s %s already complete for %s..%s", bt.Symbol, bt.Interval,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
		return nil
	}

	client := binance.NewClient(f.cfg.Binance)
	client.ObserveRequests(f.m.RESTRequests)
	for _, r := range missing {
		log.Printf("[fetch] %s %s missing %s..%s", bt.Symbol, bt.Interval,
			r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
		err := client.Fetch(ctx, bt.Symbol, bt.Interval, r.From, r.To, func(page []model.Candle) error {
			return f.store(ctx, page)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
