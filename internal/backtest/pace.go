package backtest

import (
	"context"
	"time"

	"threebar/internal/model"
)

// maxPaceGap caps the sleep between two paced candles.
const maxPaceGap = 5 * time.Second

// Pace replays src with wall-clock gaps scaled from candle start times.
// speed 1.0 = real-time, 10.0 = 10x; speed <= 0 returns src unchanged.
func Pace(src model.CandleSource, speed float64) model.CandleSource {
	if speed <= 0 {
		return src
	}
	return model.SourceFunc(func(ctx context.Context, out chan<- model.Candle) error {
		in := make(chan model.Candle)
		errCh := make(chan error, 1)
		go func() {
			defer close(in)
			errCh <- src.Stream(ctx, in)
		}()

		var prevTS time.Time
		for c := range in {
			if !prevTS.IsZero() {
				if gap := c.StartTime.Sub(prevTS); gap > 0 {
					scaled := time.Duration(float64(gap) / speed)
					if scaled > maxPaceGap {
						scaled = maxPaceGap
					}
					select {
					case <-ctx.Done():
						drain(in)
						<-errCh
						return ctx.Err()
					case <-time.After(scaled):
					}
				}
			}
			prevTS = c.StartTime

			select {
			case <-ctx.Done():
				drain(in)
				<-errCh
				return ctx.Err()
			case out <- c:
			}
		}
		return <-errCh
	})
}

func drain(ch <-chan model.Candle) {
	for range ch {
	}
}
