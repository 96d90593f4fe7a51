package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"threebar/config"
	"threebar/internal/ledger"
)

func TestAlertBody(t *testing.T) {
	a := Alert{Message: "done", Fields: map[string]string{"b": "2", "a": "1"}}
	if got := a.Body(); got != "done\na: 1\nb: 2" {
		t.Errorf("Body = %q", got)
	}
	if got := (Alert{Fields: map[string]string{"x": "y"}}).Body(); got != "x: y" {
		t.Errorf("Body without message = %q", got)
	}
}

func TestReportAlert(t *testing.T) {
	r := ledger.Report{TradeCount: 4, WinCount: 3, LossCount: 1, WinRate: 75, ReturnPercent: 12.5, FinalCapital: 1125}
	a := ReportAlert("run-1", "BTCUSDT", "5m", ledger.StatusOK, r)
	if a.Level != AlertInfo || a.RunID != "run-1" {
		t.Errorf("alert = %+v", a)
	}
	if a.Fields["win_rate"] != "75.00%" || a.Fields["status"] != "ok" {
		t.Errorf("fields = %v", a.Fields)
	}

	h := ReportAlert("run-1", "BTCUSDT", "5m", ledger.StatusHalted, r)
	if h.Level != AlertCritical || !strings.Contains(h.Title, "halted") {
		t.Errorf("halted alert = %+v", h)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method=%s content-type=%s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := n.Send(context.Background(), HaltAlert("run-9", 0.5, 1)); err != nil {
		t.Fatal(err)
	}
	if got["level"] != "CRITICAL" || got["run_id"] != "run-9" || got["ts"] != "2024-01-01T00:00:00Z" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Error("expected error on 502")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "Run 1.5", Message: "ok"}); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if payload["chat_id"] != "42" || payload["parse_mode"] != "MarkdownV2" {
		t.Errorf("payload = %v", payload)
	}
	if text, _ := payload["text"].(string); !strings.Contains(text, `Run 1\.5`) {
		t.Errorf("title not escaped: %q", text)
	}
}

func TestTelegramNotifier_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	err := n.Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v", err)
	}
}

func TestTelegramNotifier_BadReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	err := n.Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "decode reply") {
		t.Fatalf("err = %v", err)
	}
	var syntax *json.SyntaxError
	if !errors.As(err, &syntax) {
		t.Errorf("expected wrapped json.SyntaxError, got %T", errors.Unwrap(err))
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

type recording struct{ n int }

func (r *recording) Send(context.Context, Alert) error { r.n++; return nil }

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	e1, e2 := errors.New("a"), errors.New("b")
	rec := &recording{}
	err := Multi{failing{e1}, rec, failing{e2}}.Send(context.Background(), Alert{})
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("joined error = %v", err)
	}
	if rec.n != 1 {
		t.Errorf("healthy notifier called %d times", rec.n)
	}
}

func TestFromConfig(t *testing.T) {
	if m := FromConfig(config.Notify{}).(Multi); len(m) != 1 {
		t.Errorf("empty config built %d sinks", len(m))
	}
	m := FromConfig(config.Notify{WebhookURL: "http://x", TelegramToken: "t", TelegramChatID: "c"}).(Multi)
	if len(m) != 3 {
		t.Errorf("full config built %d sinks", len(m))
	}
}
