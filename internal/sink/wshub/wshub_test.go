package wshub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/sink"
	"github.com/YaganovValera/feedbridge/internal/sink/wshub"
)

type tailMsg struct {
	When      time.Time `json:"when"`
	Tickers   []string  `json:"tickers"`
	Payload   any       `json:"payload"`
	RequestID string    `json:"request_id"`
}

func startHub(t *testing.T, cfg wshub.Config) (*wshub.Hub, *httptest.Server) {
	t.Helper()
	h := wshub.New(cfg, logger.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string, hdr http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *wshub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", h.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func read(t *testing.T, conn *websocket.Conn) tailMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m tailMsg
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestHub_Broadcast(t *testing.T) {
	h, srv := startHub(t, wshub.Config{})
	conn := dial(t, srv, "", nil)
	waitSubscribers(t, h, 1)

	rec := sink.Record{
		When:      time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		Tickers:   []string{"AAPL"},
		Payload:   map[string]any{"px": 1.5},
		RequestID: "r1",
	}
	if err := h.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := tailMsg{When: rec.When, Tickers: rec.Tickers, Payload: map[string]any{"px": 1.5}, RequestID: "r1"}
	if diff := cmp.Diff(want, read(t, conn)); diff != "" {
		t.Errorf("message (-want +got):\n%s", diff)
	}
}

func TestHub_TickerFilter(t *testing.T) {
	h, srv := startHub(t, wshub.Config{})
	conn := dial(t, srv, "?tickers=msft,%20eurusd", nil)
	waitSubscribers(t, h, 1)

	_ = h.Write(context.Background(), sink.Record{Tickers: []string{"AAPL"}, Payload: "skip"})
	_ = h.Write(context.Background(), sink.Record{Tickers: []string{"EURUSD"}, Payload: "take"})

	if got := read(t, conn); got.Payload != "take" {
		t.Errorf("payload = %v, want the EURUSD record", got.Payload)
	}
}

func TestHub_OriginCheck(t *testing.T) {
	_, srv := startHub(t, wshub.Config{AllowedOrigins: []string{"https://ok.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake failure for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %+v", resp)
	}
	dial(t, srv, "", http.Header{"Origin": {"https://ok.example"}})
}

func TestHub_CloseDisconnects(t *testing.T) {
	h, srv := startHub(t, wshub.Config{})
	conn := dial(t, srv, "", nil)
	waitSubscribers(t, h, 1)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	waitSubscribers(t, h, 0)

	// новые подключения после Close отклоняются
	late := dial(t, srv, "", nil)
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestHub_WriteWithoutSubscribers(t *testing.T) {
	h := wshub.New(wshub.Config{}, logger.Nop())
	if err := h.Write(context.Background(), sink.Record{Payload: make(chan int)}); err != nil {
		t.Fatalf("Write without subscribers must be a no-op: %v", err)
	}
	if h.Name() != "websocket" || h.Path() != "/stream" {
		t.Errorf("Name=%q Path=%q", h.Name(), h.Path())
	}
}
