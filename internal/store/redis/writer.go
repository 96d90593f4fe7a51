package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"threebar/internal/ledger"
	"threebar/internal/model"
)

const (
	defaultReportTTL   = 7 * 24 * time.Hour
	defaultMaxFailures = 5
	defaultCooldown    = 10 * time.Second
	pipelineChunk      = 500
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	ReportTTL time.Duration // 0 uses 7 days
}

// Writer appends klines to per-market streams and publishes run reports.
type Writer struct {
	client    *goredis.Client
	streams   streamClient
	breaker   *CircuitBreaker
	reportTTL time.Duration
	writeDur  prometheus.Observer
}

// ReportMessage is the JSON document stored under ReportKey and published
// on ReportChannel.
type ReportMessage struct {
	RunID       string        `json:"run_id"`
	Status      string        `json:"status"`
	Report      ledger.Report `json:"report"`
	PublishedAt time.Time     `json:"published_at"`
}

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.ReportTTL
	if ttl <= 0 {
		ttl = defaultReportTTL
	}
	cb := NewCircuitBreaker(defaultMaxFailures, defaultCooldown)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, streams: client, breaker: cb, reportTTL: ttl}, nil
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// ObserveWrites records pipeline latency into h.
func (w *Writer) ObserveWrites(h prometheus.Observer) { w.writeDur = h }

// AppendCandles adds candles to their kline stream. Candles at or before the
// stream's last entry are skipped, so re-appending a range is harmless.
// All candles must share one symbol and interval. Returns how many were added.
func (w *Writer) AppendCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	stream := StreamKey(candles[0].Symbol, candles[0].Interval)

	last, err := w.lastMillis(ctx, stream)
	if err != nil {
		return 0, err
	}

	added := 0
	for start := 0; start < len(candles); start += pipelineChunk {
		end := start + pipelineChunk
		if end > len(candles) {
			end = len(candles)
		}
		n := 0
		err := w.exec(ctx, func(pipe goredis.Pipeliner) int {
			for _, c := range candles[start:end] {
				if c.Symbol != candles[0].Symbol || c.Interval != candles[0].Interval {
					continue
				}
				ms := c.StartTime.UnixMilli()
				if ms <= last {
					continue
				}
				pipe.XAdd(ctx, &goredis.XAddArgs{
					Stream: stream,
					ID:     streamID(c.StartTime),
					Values: encode(c),
				})
				last = ms
				n++
			}
			return n
		})
		if err != nil {
			return added, fmt.Errorf("redis xadd %s: %w", stream, err)
		}
		added += n
	}
	return added, nil
}

// PublishReport stores the report under ReportKey(runID) and announces it
// on ReportChannel.
func (w *Writer) PublishReport(ctx context.Context, runID string, status ledger.Status, report ledger.Report) error {
	msg := ReportMessage{
		RunID:       runID,
		Status:      status.String(),
		Report:      report,
		PublishedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis report marshal: %w", err)
	}
	err = w.exec(ctx, func(pipe goredis.Pipeliner) int {
		pipe.Set(ctx, ReportKey(runID), data, w.reportTTL)
		pipe.Publish(ctx, ReportChannel, data)
		return 2
	})
	if err != nil {
		return fmt.Errorf("redis publish report %s: %w", runID, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// exec queues commands via fill and runs them as one pipeline behind the
// breaker. fill returns the number of queued commands.
func (w *Writer) exec(ctx context.Context, fill func(goredis.Pipeliner) int) error {
	return w.breaker.Execute(func() error {
		start := time.Now()
		pipe := w.streams.Pipeline()
		defer pipe.Close()
		if fill(pipe) == 0 {
			return nil
		}
		_, err := pipe.Exec(ctx)
		if w.writeDur != nil {
			w.writeDur.Observe(time.Since(start).Seconds())
		}
		return err
	})
}

func (w *Writer) lastMillis(ctx context.Context, stream string) (int64, error) {
	msgs, err := w.streams.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis xrevrange %s: %w", stream, err)
	}
	if len(msgs) == 0 {
		return -1 << 62, nil
	}
	return idMillis(msgs[0].ID)
}
