package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"threebar/internal/model"
)

// DefaultStreamURL is the futures market stream endpoint.
const DefaultStreamURL = "wss://fstream.binance.com/ws"

// StreamConfig holds configuration for the kline stream.
type StreamConfig struct {
	// BaseURL of the market stream, e.g. "wss://fstream.binance.com/ws".
	BaseURL  string
	Symbol   string
	Interval string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *StreamConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultStreamURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Stream follows <symbol>@kline_<interval> and emits each candle once it
// closes. It implements model.CandleSource and runs until ctx is cancelled.
type Stream struct {
	cfg StreamConfig
	url string

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// NewStream validates the endpoint and builds the stream URL.
func NewStream(cfg StreamConfig) (*Stream, error) {
	cfg.defaults()
	if cfg.Symbol == "" || cfg.Interval == "" {
		return nil, fmt.Errorf("binance stream: symbol and interval are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("binance stream: %w", err)
	}
	name := strings.ToLower(cfg.Symbol) + "@kline_" + cfg.Interval
	return &Stream{
		cfg: cfg,
		url: strings.TrimRight(cfg.BaseURL, "/") + "/" + name,
	}, nil
}

// URL returns the full stream URL.
func (s *Stream) URL() string { return s.url }

// Stream connects and delivers closed candles into out, reconnecting on
// disconnect. It returns ctx.Err() once ctx is done.
func (s *Stream) Stream(ctx context.Context, out chan<- model.Candle) error {
	delay := s.cfg.ReconnectDelay
	var last time.Time

	for {
		err := s.runOnce(ctx, out, &last)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Printf("[binance-ws] disconnected (%v), reconnecting in %s...", err, delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. last tracks the newest delivered open time across reconnects
// so a replayed final kline is not emitted twice.
func (s *Stream) runOnce(ctx context.Context, out chan<- model.Candle, last *time.Time) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[binance-ws] connected to %s", s.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c, closed, err := parseKline(raw)
		if err != nil {
			log.Printf("[binance-ws] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if !closed || !c.StartTime.After(*last) {
			continue
		}

		select {
		case out <- c:
			*last = c.StartTime
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime            int64  `json:"t"`
		CloseTime           int64  `json:"T"`
		Interval            string `json:"i"`
		Open                string `json:"o"`
		Close               string `json:"c"`
		High                string `json:"h"`
		Low                 string `json:"l"`
		Volume              string `json:"v"`
		TradeNum            int64  `json:"n"`
		Final               bool   `json:"x"`
		QuoteVolume         string `json:"q"`
		TakerBuyVolume      string `json:"V"`
		TakerBuyQuoteVolume string `json:"Q"`
	} `json:"k"`
}

// parseKline decodes a kline event. closed reports whether the bar is final.
func parseKline(raw []byte) (c model.Candle, closed bool, err error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return c, false, err
	}
	if ev.Event != "kline" {
		return c, false, fmt.Errorf("unexpected event %q", ev.Event)
	}
	k := ev.Kline
	c.Symbol = ev.Symbol
	c.Interval = k.Interval
	c.StartTime = time.UnixMilli(k.OpenTime).UTC()
	c.CloseTime = time.UnixMilli(k.CloseTime).UTC()
	c.TradeCount = k.TradeNum

	fields := []struct {
		dst *float64
		src string
	}{
		{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close},
		{&c.Volume, k.Volume}, {&c.QuoteVolume, k.QuoteVolume},
		{&c.TakerBuyVolume, k.TakerBuyVolume}, {&c.TakerBuyQuoteVolume, k.TakerBuyQuoteVolume},
	}
	for _, f := range fields {
		if *f.dst, err = parseFloat(f.src); err != nil {
			return c, false, fmt.Errorf("kline %d: %w", k.OpenTime, err)
		}
	}
	return c, k.Final, nil
}
