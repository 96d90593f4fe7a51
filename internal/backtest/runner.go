// Package backtest drives a strategy over an ordered candle source.
//
// One goroutine pulls candles from the source into a bounded queue and one
// goroutine evaluates them. A full queue blocks the source. A capital-floor
// halt cancels the source so nothing further is consumed.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"threebar/internal/ledger"
	"threebar/internal/logger"
	"threebar/internal/metrics"
	"threebar/internal/model"
	"threebar/internal/strategy"
)

// ErrOutOfOrder is returned when a candle starts before its predecessor.
var ErrOutOfOrder = errors.New("candle out of order")

// DefaultQueueSize bounds the source→strategy channel.
const DefaultQueueSize = 1000

// Config tunes a run.
type Config struct {
	QueueSize int     // 0 = DefaultQueueSize
	Warmup    int     // leading candles used only to prime the strategy
	Speed     float64 // replay pacing multiplier; 0 = as fast as possible
}

// Result is the outcome of a run. A halted run is a result, not an error.
type Result struct {
	RunID   string               `json:"run_id"`
	Status  ledger.Status        `json:"status"`
	Report  ledger.Report        `json:"report"`
	Records []ledger.TradeRecord `json:"records"`
	Candles int                  `json:"candles"`
	Primed  int                  `json:"primed"`
	First   time.Time            `json:"first"`
	Last    time.Time            `json:"last"`
	Elapsed time.Duration        `json:"elapsed"`
}

// Runner owns one strategy for one run.
type Runner struct {
	cfg     Config
	strat   strategy.Strategy
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
}

// Option customises a Runner.
type Option func(*Runner)

// WithMetrics records per-candle metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithHealth reports progress to a health endpoint.
func WithHealth(h *metrics.HealthStatus) Option { return func(r *Runner) { r.health = h } }

// New creates a runner for s.
func New(cfg Config, s strategy.Strategy, opts ...Option) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	r := &Runner{cfg: cfg, strat: s}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run streams src through the strategy until the source is exhausted, the
// ledger halts, or ctx is cancelled. Cancellation and source failures are
// returned as errors; a halt is reported in Result.Status.
func (r *Runner) Run(ctx context.Context, src model.CandleSource) (Result, error) {
	started := time.Now()
	res := Result{RunID: logger.RunID(ctx)}

	if r.cfg.Speed > 0 {
		src = Pace(src, r.cfg.Speed)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	queue := make(chan model.Candle, r.cfg.QueueSize)
	var halted atomic.Bool

	if r.health != nil {
		r.health.SetSourceConnected(true)
	}

	// Producer
	g.Go(func() error {
		defer close(queue)
		err := src.Stream(gctx, queue)
		if err != nil && halted.Load() && errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		return nil
	})

	// Consumer
	g.Go(func() error {
		var (
			warm []model.Candle
			prev time.Time
		)
		primed := r.cfg.Warmup <= 0
		prime := func() error {
			primed = true
			if len(warm) == 0 {
				return nil
			}
			res.Primed = len(warm)
			return r.strat.Prime(warm)
		}

		for {
			select {
			case <-gctx.Done():
				if halted.Load() {
					return nil
				}
				return gctx.Err()
			case c, ok := <-queue:
				if !ok {
					if !primed {
						return prime()
					}
					return nil
				}
				if r.metrics != nil {
					r.metrics.ObserveQueue(len(queue), cap(queue))
				}
				if !prev.IsZero() && c.StartTime.Before(prev) {
					return fmt.Errorf("%w: %s after %s", ErrOutOfOrder,
						c.StartTime.Format(time.RFC3339), prev.Format(time.RFC3339))
				}
				prev = c.StartTime
				if res.First.IsZero() {
					res.First = c.StartTime
				}
				res.Last = c.StartTime

				if !primed {
					warm = append(warm, c)
					if len(warm) >= r.cfg.Warmup {
						if err := prime(); err != nil {
							return err
						}
					}
					continue
				}

				status, err := r.step(c)
				if err != nil {
					return err
				}
				res.Candles++
				if status == ledger.StatusHalted {
					halted.Store(true)
					log.Printf("[backtest] capital floor reached at %s, stopping", c.CloseTime.Format(time.RFC3339))
					stop()
					return nil
				}
			}
		}
	})

	err := g.Wait()
	if r.health != nil {
		r.health.SetSourceConnected(false)
		r.health.SetDone(true)
	}

	led := r.strat.Ledger()
	res.Status = led.Status()
	res.Report = led.Report()
	res.Records = led.Records()
	res.Elapsed = time.Since(started)

	if err != nil {
		return res, err
	}

	attrs := append(logger.Attrs(ctx),
		"status", res.Status.String(),
		"candles", res.Candles,
		"trades", res.Report.TradeCount,
		"capital", res.Report.FinalCapital,
		"elapsed", res.Elapsed.String(),
	)
	slog.Info("backtest finished", attrs...)
	return res, nil
}

func (r *Runner) step(c model.Candle) (ledger.Status, error) {
	t0 := time.Now()
	status, err := r.strat.OnCandle(c)
	if r.metrics != nil {
		r.metrics.StepDur.Observe(time.Since(t0).Seconds())
		if errors.Is(err, model.ErrInvalidCandle) {
			r.metrics.InvalidCandles.Inc()
		}
	}
	if err != nil {
		return status, fmt.Errorf("candle %s: %w", c.StartTime.Format(time.RFC3339), err)
	}
	if r.metrics != nil {
		r.metrics.CandlesTotal.Inc()
		r.metrics.Capital.Set(r.strat.Ledger().Capital())
		r.metrics.SetHalted(status == ledger.StatusHalted)
	}
	if r.health != nil {
		r.health.RecordCandle(c.StartTime)
		r.health.SetHalted(status == ledger.StatusHalted)
	}
	return status, nil
}
