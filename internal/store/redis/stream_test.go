package redis

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"threebar/internal/model"
)

// fakeStreams keeps streams in memory and answers the range commands the
// reader and writer issue. Entry IDs always carry sequence 0.
type fakeStreams struct {
	entries  map[string][]goredis.XMessage
	starts   []string // start bound of every XRANGE call
	failExec error
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{entries: make(map[string][]goredis.XMessage)}
}

func bound(s string) (ms int64, exclusive bool) {
	switch s {
	case "-":
		return math.MinInt64, false
	case "+":
		return math.MaxInt64, false
	}
	if strings.HasPrefix(s, "(") {
		exclusive = true
		s = s[1:]
	}
	ms, _ = idMillis(s)
	return ms, exclusive
}

func (f *fakeStreams) XRangeN(_ context.Context, stream, start, stop string, count int64) *goredis.XMessageSliceCmd {
	f.starts = append(f.starts, start)
	lo, loExcl := bound(start)
	hi, _ := bound(stop)
	var out []goredis.XMessage
	for _, m := range f.entries[stream] {
		ms, _ := idMillis(m.ID)
		if ms < lo || (loExcl && ms == lo) || ms > hi {
			continue
		}
		out = append(out, m)
		if int64(len(out)) == count {
			break
		}
	}
	return goredis.NewXMessageSliceCmdResult(out, nil)
}

func (f *fakeStreams) XRevRangeN(_ context.Context, stream, _, _ string, _ int64) *goredis.XMessageSliceCmd {
	msgs := f.entries[stream]
	if len(msgs) == 0 {
		return goredis.NewXMessageSliceCmdResult(nil, nil)
	}
	return goredis.NewXMessageSliceCmdResult(msgs[len(msgs)-1:], nil)
}

func (f *fakeStreams) Pipeline() goredis.Pipeliner { return &fakePipe{f: f} }

type fakePipe struct {
	goredis.Pipeliner
	f       *fakeStreams
	pending []*goredis.XAddArgs
}

func (p *fakePipe) XAdd(_ context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	p.pending = append(p.pending, a)
	return goredis.NewStringResult(a.ID, nil)
}

func (p *fakePipe) Exec(context.Context) ([]goredis.Cmder, error) {
	if p.f.failExec != nil {
		return nil, p.f.failExec
	}
	for _, a := range p.pending {
		values := a.Values.(map[string]interface{})
		// Redis returns field values as strings.
		data := string(values["data"].([]byte))
		p.f.entries[a.Stream] = append(p.f.entries[a.Stream], goredis.XMessage{
			ID:     a.ID,
			Values: map[string]interface{}{"data": data},
		})
	}
	p.pending = nil
	return nil, nil
}

func (p *fakePipe) Close() error { return nil }

var streamBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func streamCandles(sym string, from, n int) []model.Candle {
	out := make([]model.Candle, 0, n)
	for i := from; i < from+n; i++ {
		start := streamBase.Add(time.Duration(i) * time.Minute)
		out = append(out, model.Candle{
			Symbol: sym, Interval: "1m",
			StartTime: start, CloseTime: start.Add(time.Minute - time.Millisecond),
			Open: 10, High: 11, Low: 9, Close: float64(10 + i), Volume: 1,
		})
	}
	return out
}

func collect(t *testing.T, src model.CandleSource) []model.Candle {
	t.Helper()
	out := make(chan model.Candle, 64)
	if err := src.Stream(context.Background(), out); err != nil {
		t.Fatalf("stream: %v", err)
	}
	close(out)
	var got []model.Candle
	for c := range out {
		got = append(got, c)
	}
	return got
}

func newTestWriter(f *fakeStreams) *Writer {
	return &Writer{streams: f, breaker: NewCircuitBreaker(2, time.Minute), reportTTL: defaultReportTTL}
}

func TestWriterAppendCandles_SkipsStoredAndForeign(t *testing.T) {
	f := newFakeStreams()
	w := newTestWriter(f)
	ctx := context.Background()

	n, err := w.AppendCandles(ctx, streamCandles("BTCUSDT", 0, 3))
	if err != nil || n != 3 {
		t.Fatalf("first append: n=%d err=%v", n, err)
	}

	batch := streamCandles("BTCUSDT", 1, 4) // minutes 1..4, 1 and 2 already stored
	batch = append(batch, streamCandles("ETHUSDT", 9, 1)...)
	n, err = w.AppendCandles(ctx, batch)
	if err != nil || n != 2 {
		t.Fatalf("second append: n=%d err=%v", n, err)
	}

	stored := f.entries[StreamKey("BTCUSDT", "1m")]
	if len(stored) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(stored))
	}
	for i, m := range stored {
		if want := streamID(streamBase.Add(time.Duration(i) * time.Minute)); m.ID != want {
			t.Errorf("entry %d id = %s, want %s", i, m.ID, want)
		}
	}
	if _, ok := f.entries[StreamKey("ETHUSDT", "1m")]; ok {
		t.Error("candle of another market must not be appended")
	}
}

func TestWriterAppendCandles_ExecFailureTripsBreaker(t *testing.T) {
	f := newFakeStreams()
	f.failExec = errors.New("connection refused")
	w := newTestWriter(f)

	for i := 0; i < 2; i++ {
		if _, err := w.AppendCandles(context.Background(), streamCandles("BTCUSDT", 0, 1)); err == nil {
			t.Fatal("expected exec error")
		}
	}
	_, err := w.AppendCandles(context.Background(), streamCandles("BTCUSDT", 0, 1))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestReaderSource_PagesWithExclusiveStart(t *testing.T) {
	f := newFakeStreams()
	if _, err := newTestWriter(f).AppendCandles(context.Background(), streamCandles("BTCUSDT", 0, 5)); err != nil {
		t.Fatal(err)
	}
	r := &Reader{streams: f, pageSize: 2}

	got := collect(t, r.Source("BTCUSDT", "1m", time.Time{}, time.Time{}))
	if len(got) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(got))
	}
	for i, c := range got {
		if c.Close != float64(10+i) {
			t.Errorf("candle %d close = %v, want %v", i, c.Close, 10+i)
		}
	}

	want := []string{"-", "(" + streamID(streamBase.Add(time.Minute)), "(" + streamID(streamBase.Add(3*time.Minute))}
	if len(f.starts) != len(want) {
		t.Fatalf("range starts = %v, want %v", f.starts, want)
	}
	for i := range want {
		if f.starts[i] != want[i] {
			t.Errorf("start %d = %s, want %s", i, f.starts[i], want[i])
		}
	}
}

func TestReaderSource_Bounded(t *testing.T) {
	f := newFakeStreams()
	if _, err := newTestWriter(f).AppendCandles(context.Background(), streamCandles("BTCUSDT", 0, 6)); err != nil {
		t.Fatal(err)
	}
	r := &Reader{streams: f, pageSize: 2}

	got := collect(t, r.Source("BTCUSDT", "1m", streamBase.Add(time.Minute), streamBase.Add(3*time.Minute)))
	if len(got) != 3 || !got[0].StartTime.Equal(streamBase.Add(time.Minute)) || !got[2].StartTime.Equal(streamBase.Add(3*time.Minute)) {
		t.Fatalf("unexpected bounded range: %+v", got)
	}
}

func TestReaderSource_BadEntry(t *testing.T) {
	f := newFakeStreams()
	stream := StreamKey("BTCUSDT", "1m")
	f.entries[stream] = []goredis.XMessage{{ID: "1-0", Values: map[string]interface{}{"data": "{"}}}
	r := &Reader{streams: f, pageSize: 2}

	out := make(chan model.Candle, 1)
	err := r.Source("BTCUSDT", "1m", time.Time{}, time.Time{}).Stream(context.Background(), out)
	if err == nil || !strings.Contains(err.Error(), "1-0") {
		t.Fatalf("expected decode error naming the entry, got %v", err)
	}
}
