package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"threebar/config"
	"threebar/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// klineRow renders the i-th one-minute kline in the REST array layout.
func klineRow(i int) []interface{} {
	open := t0.Add(time.Duration(i) * time.Minute)
	p := float64(100 + i)
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []interface{}{
		open.UnixMilli(), f(p), f(p + 2), f(p - 1), f(p + 1), "10",
		open.Add(time.Minute - time.Millisecond).UnixMilli(), "1000", 5, "4", "400", "0",
	}
}

// fakeKlines serves n one-minute klines honouring startTime, endTime and limit.
func fakeKlines(t *testing.T, n int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(hits, 1)
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end := int64(1 << 62)
		if v := q.Get("endTime"); v != "" {
			end, _ = strconv.ParseInt(v, 10, 64)
		}
		limit, _ := strconv.Atoi(q.Get("limit"))

		rows := [][]interface{}{}
		for i := 0; i < n && len(rows) < limit; i++ {
			open := t0.Add(time.Duration(i) * time.Minute).UnixMilli()
			if open >= start && open <= end {
				rows = append(rows, klineRow(i))
			}
		}
		json.NewEncoder(w).Encode(rows)
	}))
}

func testClient(url string) *Client {
	c := NewClient(config.Binance{BaseURL: url, RequestsPerSecond: 1000, Burst: 10, MaxRetries: 3})
	c.now = func() time.Time { return t0.Add(24 * time.Hour) }
	return c
}

func TestKlines_ParsesRows(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 3, &hits)
	defer srv.Close()

	got, err := testClient(srv.URL).Klines(context.Background(), "BTCUSDT", "1m", t0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d klines", len(got))
	}
	c := got[1]
	if c.Symbol != "BTCUSDT" || c.Interval != "1m" {
		t.Errorf("labels = %s %s", c.Symbol, c.Interval)
	}
	if c.Open != 101 || c.High != 103 || c.Low != 100 || c.Close != 102 || c.TradeCount != 5 {
		t.Errorf("prices = %+v", c)
	}
	if c.TakerBuyVolume != 4 || c.TakerBuyQuoteVolume != 400 || c.QuoteVolume != 1000 {
		t.Errorf("volumes = %+v", c)
	}
	if !c.StartTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("start = %v", c.StartTime)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("parsed candle invalid: %v", err)
	}
}

func TestSource_PagesInOrder(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 5, &hits)
	defer srv.Close()

	c := testClient(srv.URL)
	c.pageLimit = 2

	out := make(chan model.Candle, 10)
	if err := c.Source("BTCUSDT", "1m", t0, time.Time{}).Stream(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	close(out)

	i := 0
	for k := range out {
		if want := t0.Add(time.Duration(i) * time.Minute); !k.StartTime.Equal(want) {
			t.Errorf("candle %d start = %v, want %v", i, k.StartTime, want)
		}
		i++
	}
	if i != 5 {
		t.Errorf("got %d candles, want 5", i)
	}
	// Pages of 2, 2 and a short final page of 1.
	if hits != 3 {
		t.Errorf("requests = %d, want 3", hits)
	}
}

func TestFetch_DropsOpenCandle(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 5, &hits)
	defer srv.Close()

	c := testClient(srv.URL)
	c.now = func() time.Time { return t0.Add(3*time.Minute + 30*time.Second) }

	var got []model.Candle
	err := c.Fetch(context.Background(), "BTCUSDT", "1m", t0, time.Time{}, func(p []model.Candle) error {
		got = append(got, p...)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d closed candles, want 3", len(got))
	}
}

func TestFetch_RespectsUpperBound(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 10, &hits)
	defer srv.Close()

	c := testClient(srv.URL)
	n := 0
	err := c.Fetch(context.Background(), "BTCUSDT", "1m", t0, t0.Add(3*time.Minute), func(p []model.Candle) error {
		n += len(p)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("got %d candles in [0m, 3m], want 4", n)
	}
}

func TestKlines_RetriesRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
			return
		}
		json.NewEncoder(w).Encode([][]interface{}{klineRow(0)})
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rest_requests_total"}, []string{"endpoint", "outcome"})
	reg.MustRegister(reqs)

	c := testClient(srv.URL)
	c.ObserveRequests(reqs)
	got, err := c.Klines(context.Background(), "BTCUSDT", "1m", t0, time.Time{})
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if len(got) != 1 || hits != 2 {
		t.Errorf("klines=%d requests=%d", len(got), hits)
	}
	if v := testutil.ToFloat64(reqs.WithLabelValues("klines", "error")); v != 1 {
		t.Errorf("error count = %v", v)
	}
	if v := testutil.ToFloat64(reqs.WithLabelValues("klines", "ok")); v != 1 {
		t.Errorf("ok count = %v", v)
	}
}

func TestKlines_DoesNotRetryRejection(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Klines(context.Background(), "NOPE", "1m", t0, time.Time{})
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -1121 {
		t.Fatalf("expected APIError -1121, got %v", err)
	}
	if hits != 1 {
		t.Errorf("requests = %d, want 1", hits)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{context.Canceled, false},
		{&common.APIError{Code: -1003}, true},
		{&common.APIError{Code: -1121}, false},
		{&common.APIError{}, true},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
