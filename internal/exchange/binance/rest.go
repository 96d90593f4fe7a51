// Package binance fetches USDⓈ-M futures klines over REST and follows
// live kline streams over websocket.
package binance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"threebar/config"
	"threebar/internal/model"
)

// MaxKlinesPerRequest is the largest page the klines endpoint returns.
const MaxKlinesPerRequest = 1500

const endpointKlines = "klines"

// Client pages historical klines with rate limiting and retries.
type Client struct {
	fut        *futures.Client
	limiter    *rate.Limiter
	maxRetries uint64
	pageLimit  int
	requests   *prometheus.CounterVec
	now        func() time.Time
}

// NewClient builds a REST client from explicit credentials.
func NewClient(cfg config.Binance) *Client {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	fut := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	fut.HTTPClient = httpClient
	if cfg.BaseURL != "" {
		fut.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		fut:        fut,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: uint64(retries),
		pageLimit:  MaxKlinesPerRequest,
		now:        time.Now,
	}
}

// ObserveRequests counts requests by endpoint and outcome into v.
func (c *Client) ObserveRequests(v *prometheus.CounterVec) { c.requests = v }

// Klines fetches one page of at most pageLimit klines opening in [from, to].
// A zero to leaves the upper bound open.
func (c *Client) Klines(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Candle, error) {
	var raw []*futures.Kline

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		svc := c.fut.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			Limit(c.pageLimit)
		if !to.IsZero() {
			svc = svc.EndTime(to.UnixMilli())
		}
		var err error
		raw, err = svc.Do(ctx)
		if err != nil {
			c.count("error")
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			log.Printf("[binance] klines %s %s: %v (retrying)", symbol, interval, err)
			return err
		}
		c.count("ok")
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	out := make([]model.Candle, 0, len(raw))
	for _, k := range raw {
		candle, err := toCandle(k, symbol, interval)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		out = append(out, candle)
	}
	return out, nil
}

// Fetch pages klines in [from, to] and hands each page to fn in open-time
// order. Candles that have not closed yet are dropped.
func (c *Client) Fetch(ctx context.Context, symbol, interval string, from, to time.Time, fn func([]model.Candle) error) error {
	cursor := from
	for {
		page, err := c.Klines(ctx, symbol, interval, cursor, to)
		if err != nil {
			return err
		}
		full := len(page) >= c.pageLimit

		now := c.now()
		closed := page[:0]
		for _, k := range page {
			if k.CloseTime.After(now) {
				break
			}
			closed = append(closed, k)
		}
		if len(closed) > 0 {
			if err := fn(closed); err != nil {
				return err
			}
		}

		if !full || len(closed) < len(page) {
			return nil
		}
		cursor = page[len(page)-1].StartTime.Add(time.Millisecond)
		if !to.IsZero() && cursor.After(to) {
			return nil
		}
	}
}

// Source returns a CandleSource over [from, to].
func (c *Client) Source(symbol, interval string, from, to time.Time) model.CandleSource {
	return model.SourceFunc(func(ctx context.Context, out chan<- model.Candle) error {
		return c.Fetch(ctx, symbol, interval, from, to, func(page []model.Candle) error {
			for _, k := range page {
				select {
				case out <- k:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	})
}

func (c *Client) count(outcome string) {
	if c.requests != nil {
		c.requests.WithLabelValues(endpointKlines, outcome).Inc()
	}
}

// retryable reports whether a failed request is worth repeating. Exchange
// rejections are final except rate limiting (-1003) and server timeouts
// (-1007). A zero code means the body was not an exchange error, usually a
// 5xx from a proxy.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 0, -1003, -1007:
			return true
		}
		return false
	}
	return true
}

func toCandle(k *futures.Kline, symbol, interval string) (model.Candle, error) {
	var (
		c   model.Candle
		err error
	)
	c.Symbol = symbol
	c.Interval = interval
	c.StartTime = time.UnixMilli(k.OpenTime).UTC()
	c.CloseTime = time.UnixMilli(k.CloseTime).UTC()
	c.TradeCount = k.TradeNum

	fields := []struct {
		dst *float64
		src string
		nm  string
	}{
		{&c.Open, k.Open, "open"},
		{&c.High, k.High, "high"},
		{&c.Low, k.Low, "low"},
		{&c.Close, k.Close, "close"},
		{&c.Volume, k.Volume, "volume"},
		{&c.QuoteVolume, k.QuoteAssetVolume, "quote_volume"},
		{&c.TakerBuyVolume, k.TakerBuyBaseAssetVolume, "taker_buy_volume"},
		{&c.TakerBuyQuoteVolume, k.TakerBuyQuoteAssetVolume, "taker_buy_quote_volume"},
	}
	for _, f := range fields {
		if *f.dst, err = parseFloat(f.src); err != nil {
			return c, fmt.Errorf("kline %d %s: %w", k.OpenTime, f.nm, err)
		}
	}
	return c, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
