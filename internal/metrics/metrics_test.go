package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RegisterAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CandlesTotal.Add(3)
	m.EntriesTotal.WithLabelValues("LONG", "trend").Inc()
	m.ExitsTotal.WithLabelValues("take_profit").Inc()
	m.ObserveQueue(250, 1000)
	m.SetHalted(true)

	if got := testutil.ToFloat64(m.CandlesTotal); got != 3 {
		t.Errorf("candles: got %v", got)
	}
	if got := testutil.ToFloat64(m.EntriesTotal.WithLabelValues("LONG", "trend")); got != 1 {
		t.Errorf("entries: got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueSaturationPct); got != 25 {
		t.Errorf("saturation: got %v", got)
	}
	if got := testutil.ToFloat64(m.Halted); got != 1 {
		t.Errorf("halted: got %v", got)
	}

	n, err := testutil.GatherAndCount(reg, "backtest_exits_total")
	if err != nil || n != 1 {
		t.Fatalf("expected one exit series, got %d err=%v", n, err)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two runs in one process must not collide.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CandlesTotal.Inc()

	health := NewHealthStatus("sqlite")
	health.SetSourceConnected(true)
	health.RecordCandle(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	srv := NewServer(":0", health, reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "backtest_candles_total 1") {
		t.Fatalf("unexpected /metrics response %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || body["status"] != "healthy" || body["candles_seen"] != float64(1) {
		t.Fatalf("unexpected /healthz response %d: %v", rec.Code, body)
	}
}

func TestHealth_DegradedWhenSourceDown(t *testing.T) {
	health := NewHealthStatus("ws")

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	health.SetDone(true)
	rec = httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("finished run should report 200, got %d", rec.Code)
	}
}
