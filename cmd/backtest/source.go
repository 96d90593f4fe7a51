package main

import (
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"threebar/config"
	"threebar/internal/archive"
	"threebar/internal/exchange/binance"
	"threebar/internal/metrics"
	"threebar/internal/model"
	redisstore "threebar/internal/store/redis"
	sqlitestore "threebar/internal/store/sqlite"
)

type sourceArgs struct {
	from, to time.Time
	archives []string
	metrics  *metrics.Metrics
}

// openedSource is a candle source plus the connections behind it, kept for
// liveness probes.
type openedSource struct {
	model.CandleSource
	close func()
	db    *sql.DB
	rdb   *goredis.Client
}

// openSource builds the configured candle source.
func openSource(cfg *config.Config, a sourceArgs) (*openedSource, error) {
	bt := cfg.Backtest
	noop := func() {}

	switch bt.Source {
	case "sqlite":
		r, err := sqlitestore.NewReader(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		src := r.Source(bt.Symbol, bt.Interval, a.from, a.to)
		return &openedSource{CandleSource: src, close: func() { r.Close() }, db: r.DB()}, nil

	case "redis":
		r, err := redisstore.NewReader(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		src := r.Source(bt.Symbol, bt.Interval, a.from, a.to)
		return &openedSource{CandleSource: src, close: func() { r.Close() }, rdb: r.Client()}, nil

	case "binance":
		c := binance.NewClient(cfg.Binance)
		c.ObserveRequests(a.metrics.RESTRequests)
		return &openedSource{CandleSource: c.Source(bt.Symbol, bt.Interval, a.from, a.to), close: noop}, nil

	case "ws":
		s, err := binance.NewStream(binance.StreamConfig{
			BaseURL:  cfg.Binance.WSURL,
			Symbol:   bt.Symbol,
			Interval: bt.Interval,
		})
		if err != nil {
			return nil, err
		}
		s.OnReconnect = func() { a.metrics.WSReconnects.Inc() }
		return &openedSource{CandleSource: s, close: noop}, nil

	case "archive":
		if len(a.archives) == 0 {
			return nil, fmt.Errorf("source archive needs -archive paths")
		}
		return &openedSource{CandleSource: archive.Source(a.archives, bt.Symbol, bt.Interval), close: noop}, nil
	}
	return nil, fmt.Errorf("unknown source %q", bt.Source)
}
