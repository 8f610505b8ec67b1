// internal/sink/wshub/wshub.go

// Package wshub is a live-tail sink: every record is pushed as JSON to the
// WebSocket clients subscribed to one of its tickers.
package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/sink"
)

var hubMetrics = struct {
	Subscribers prometheus.Gauge
	Drops       prometheus.Counter
}{
	Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedbridge", Subsystem: "wshub", Name: "subscribers",
		Help: "Connected live-tail WebSocket clients",
	}),
	Drops: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedbridge", Subsystem: "wshub", Name: "drops_total",
		Help: "Messages dropped because a subscriber buffer was full",
	}),
}

// Config задаёт параметры live-tail.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Path         string        `mapstructure:"path"`
	BufferSize   int           `mapstructure:"buffer_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// AllowedOrigins пуст → разрешён любой Origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "/stream"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

func (c Config) Validate() error {
	if c.Enabled && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("wshub: path %q must start with /", c.Path)
	}
	return nil
}

type subscriber struct {
	conn    *websocket.Conn
	send    chan []byte
	tickers map[string]struct{} // пусто → все
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) wants(tickers []string) bool {
	if len(s.tickers) == 0 {
		return true
	}
	for _, t := range tickers {
		if _, ok := s.tickers[t]; ok {
			return true
		}
	}
	return false
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// Hub реализует sink.Sink и http.Handler для подписчиков.
type Hub struct {
	cfg      Config
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func New(cfg Config, log *logger.Logger) *Hub {
	cfg.ApplyDefaults()
	h := &Hub{
		cfg:  cfg,
		log:  log.Named("wshub"),
		subs: make(map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Path — куда монтировать Handler.
func (h *Hub) Path() string { return h.cfg.Path }

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP апгрейдит соединение; ?tickers=AAPL,MSFT ограничивает поток.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		conn:    conn,
		send:    make(chan []byte, h.cfg.BufferSize),
		tickers: parseTickers(r.URL.Query().Get("tickers")),
		done:    make(chan struct{}),
	}
	if !h.add(sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.log.Debug("ws: subscriber connected", zap.String("remote", r.RemoteAddr), zap.Int("filter", len(sub.tickers)))

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func parseTickers(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	hubMetrics.Subscribers.Inc()
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		hubMetrics.Subscribers.Dec()
	}
	h.mu.Unlock()
	sub.stop()
}

// readLoop только обслуживает control-фреймы; клиентские сообщения игнорируются.
func (h *Hub) readLoop(sub *subscriber) {
	defer func() {
		h.remove(sub)
		_ = sub.conn.Close()
	}()
	readTimeout := h.cfg.PingInterval * 2
	_ = sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case msg := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("ws: write failed", zap.Error(err))
				_ = sub.conn.Close()
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				_ = sub.conn.Close()
				return
			}
		}
	}
}

type message struct {
	When      time.Time `json:"when"`
	Tickers   []string  `json:"tickers"`
	Payload   any       `json:"payload"`
	RequestID string    `json:"request_id,omitempty"`
}

// Write раздаёт запись подписчикам без блокировки: медленный клиент
// теряет сообщения, а не тормозит pipeline.
func (h *Hub) Write(ctx context.Context, rec sink.Record) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return nil
	}
	msg, err := json.Marshal(message{
		When:      rec.When,
		Tickers:   rec.Tickers,
		Payload:   rec.Payload,
		RequestID: rec.RequestID,
	})
	if err != nil {
		return fmt.Errorf("wshub: marshal: %w", err)
	}
	for sub := range h.subs {
		if !sub.wants(rec.Tickers) {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			hubMetrics.Drops.Inc()
		}
	}
	return nil
}

// Close отключает всех подписчиков; новые подключения отклоняются.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}
