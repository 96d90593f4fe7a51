package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"threebar/internal/model"
)

const defaultPageSize = 1000

// Reader replays kline streams written by Writer.
type Reader struct {
	client   *goredis.Client
	streams  streamClient
	pageSize int64
}

// NewReader connects to Redis and pings the server.
func NewReader(cfg WriterConfig) (*Reader, error) {
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
	log.Printf("[redis] reader connected to %s", cfg.Addr)
	return &Reader{client: client, streams: client, pageSize: defaultPageSize}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// Source returns a CandleSource that pages through the stream in
// open-time order. Zero from/to leave that side unbounded.
// Pages after the first use an exclusive XRANGE start, which needs
// Redis 6.2 or newer.
func (r *Reader) Source(symbol, interval string, from, to time.Time) model.CandleSource {
	stream := StreamKey(symbol, interval)
	return model.SourceFunc(func(ctx context.Context, out chan<- model.Candle) error {
		start := rangeBound(from, "-")
		stop := rangeBound(to, "+")
		for {
			msgs, err := r.streams.XRangeN(ctx, stream, start, stop, r.pageSize).Result()
			if err != nil {
				return fmt.Errorf("redis xrange %s: %w", stream, err)
			}
			for _, m := range msgs {
				c, err := decode(m.Values)
				if err != nil {
					return fmt.Errorf("%s %s: %w", stream, m.ID, err)
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if int64(len(msgs)) < r.pageSize {
				return nil
			}
			// Exclusive start continues after the last delivered entry.
			start = "(" + msgs[len(msgs)-1].ID
		}
	})
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
