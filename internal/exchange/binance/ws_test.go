package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"threebar/internal/model"
)

func klineEventJSON(i int, final bool) string {
	open := t0.Add(time.Duration(i) * time.Minute)
	p := 100 + i
	return fmt.Sprintf(`{"e":"kline","E":%d,"s":"BTCUSDT","k":{"t":%d,"T":%d,"s":"BTCUSDT","i":"1m","o":"%d","c":"%d","h":"%d","l":"%d","v":"10","n":7,"x":%t,"q":"1000","V":"4","Q":"400"}}`,
		open.UnixMilli(), open.UnixMilli(), open.Add(time.Minute-time.Millisecond).UnixMilli(),
		p, p+1, p+2, p-1, final)
}

func TestParseKline(t *testing.T) {
	c, closed, err := parseKline([]byte(klineEventJSON(2, true)))
	if err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Error("expected final kline")
	}
	if c.Symbol != "BTCUSDT" || c.Interval != "1m" || c.Open != 102 || c.Close != 103 || c.TradeCount != 7 {
		t.Errorf("parsed %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("parsed candle invalid: %v", err)
	}

	if _, _, err := parseKline([]byte(`{"e":"aggTrade"}`)); err == nil {
		t.Error("expected error for non-kline event")
	}
	if _, _, err := parseKline([]byte(`{`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestStream_EmitsClosedCandlesAcrossReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/btcusdt@kline_1m") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msgs []string
		if atomic.AddInt32(&conns, 1) == 1 {
			msgs = []string{klineEventJSON(0, false), klineEventJSON(0, true), "not json", klineEventJSON(1, true)}
		} else {
			// Replays the last final kline before moving on.
			msgs = []string{klineEventJSON(1, true), klineEventJSON(2, false), klineEventJSON(2, true)}
		}
		for _, m := range msgs {
			conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		if atomic.LoadInt32(&conns) > 1 {
			// Hold the second connection open until the client leaves.
			conn.ReadMessage()
		}
	}))
	defer srv.Close()

	s, err := NewStream(StreamConfig{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Symbol:         "BTCUSDT",
		Interval:       "1m",
		ReconnectDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	var reconnects int32
	s.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan model.Candle)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Stream(ctx, out) }()

	for i := 0; i < 3; i++ {
		select {
		case c := <-out:
			if want := t0.Add(time.Duration(i) * time.Minute); !c.StartTime.Equal(want) {
				t.Fatalf("candle %d start = %v, want %v", i, c.StartTime, want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for candle %d", i)
		}
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Stream returned %v, want context.Canceled", err)
	}
	if atomic.LoadInt32(&reconnects) < 1 {
		t.Error("expected at least one reconnect")
	}
}

func TestNewStream_RequiresMarket(t *testing.T) {
	if _, err := NewStream(StreamConfig{Symbol: "BTCUSDT"}); err == nil {
		t.Error("expected error without interval")
	}
	s, err := NewStream(StreamConfig{Symbol: "ETHUSDT", Interval: "5m"})
	if err != nil {
		t.Fatal(err)
	}
	if s.URL() != "wss://fstream.binance.com/ws/ethusdt@kline_5m" {
		t.Errorf("url = %s", s.URL())
	}
}
