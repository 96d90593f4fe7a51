package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"threebar/internal/model"
)

// streamClient is the subset of the Redis client the stream reader and
// writer use. *goredis.Client satisfies it.
type streamClient interface {
	XRangeN(ctx context.Context, stream, start, stop string, count int64) *goredis.XMessageSliceCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *goredis.XMessageSliceCmd
	Pipeline() goredis.Pipeliner
}

// ReportChannel is the pub/sub channel run reports are published on.
const ReportChannel = "pub:backtest:report"

// StreamKey returns the stream holding closed klines for symbol and interval.
func StreamKey(symbol, interval string) string {
	return fmt.Sprintf("kline:%s:%s", symbol, interval)
}

// ReportKey returns the key a run's report is stored under.
func ReportKey(runID string) string {
	return "backtest:report:" + runID
}

// streamID derives the entry ID from the candle open time so XRANGE can
// be bounded by wall-clock milliseconds.
func streamID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}

// idMillis extracts the millisecond part of a stream ID.
func idMillis(id string) (int64, error) {
	ms, _, _ := strings.Cut(id, "-")
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis stream id %q: %w", id, err)
	}
	return v, nil
}

func encode(c model.Candle) map[string]interface{} {
	return map[string]interface{}{"data": c.JSON()}
}

func decode(values map[string]interface{}) (model.Candle, error) {
	var c model.Candle
	raw, ok := values["data"]
	if !ok {
		return c, fmt.Errorf("redis entry: missing data field")
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return c, fmt.Errorf("redis entry: unexpected data type %T", raw)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("redis entry decode: %w", err)
	}
	return c, nil
}

// rangeBound renders t as an XRANGE bound. Zero means open-ended.
func rangeBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
