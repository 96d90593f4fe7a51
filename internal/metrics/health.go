package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the backtest process health.
type HealthStatus struct {
	mu sync.RWMutex

	Source          string    `json:"source"`
	SourceConnected bool      `json:"source_connected"`
	LastCandleTime  time.Time `json:"last_candle_time"`
	CandlesSeen     int64     `json:"candles_seen"`
	Halted          bool      `json:"halted"`
	Done            bool      `json:"done"`

	// Liveness probe results
	RedisConnected  bool      `json:"redis_connected"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(source string) *HealthStatus {
	return &HealthStatus{
		Source:    source,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSourceConnected(v bool) {
	h.mu.Lock()
	h.SourceConnected = v
	h.mu.Unlock()
}

// RecordCandle notes progress through the candle stream.
func (h *HealthStatus) RecordCandle(start time.Time) {
	h.mu.Lock()
	h.LastCandleTime = start
	h.CandlesSeen++
	h.mu.Unlock()
}

func (h *HealthStatus) SetHalted(v bool) {
	h.mu.Lock()
	h.Halted = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetDone(v bool) {
	h.mu.Lock()
	h.Done = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case h.Halted:
		overallStatus = "halted"
	case !h.SourceConnected && !h.Done:
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Source          string  `json:"source"`
		SourceConnected bool    `json:"source_connected"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandlesSeen     int64   `json:"candles_seen"`
		Done            bool    `json:"done"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Source:          h.Source,
		SourceConnected: h.SourceConnected,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandlesSeen:     h.CandlesSeen,
		Done:            h.Done,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
