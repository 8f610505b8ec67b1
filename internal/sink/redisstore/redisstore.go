// internal/sink/redisstore/redisstore.go

package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/backoff"
	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/sink"
)

var (
	redisMetrics = struct {
		SetErrors        prometheus.Counter
		GetErrors        prometheus.Counter
		OperationLatency prometheus.Histogram
	}{
		SetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "redis", Name: "set_errors_total",
			Help: "Total number of errors on Redis SET",
		}),
		GetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "redis", Name: "get_errors_total",
			Help: "Total number of errors on Redis GET",
		}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedbridge", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("feedbridge/sink/redis")
)

// ErrNotFound возвращается, если ключ отсутствует.
var ErrNotFound = errors.New("redis: key not found")

// Config хранит параметры подключения к Redis.
type Config struct {
	Enabled   bool           `mapstructure:"enabled"`
	URL       string         `mapstructure:"url"`        // e.g. "redis://host:6379/0"
	TTL       time.Duration  `mapstructure:"ttl"`        // default: 10m
	KeyPrefix string         `mapstructure:"key_prefix"` // default: "feed"
	Backoff   backoff.Config `mapstructure:"backoff"`
}

func (c *Config) ApplyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "feed"
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.URL == "" {
		return fmt.Errorf("redis: URL required")
	}
	return nil
}

// kv — подмножество *redis.Client, которым пользуется Store.
type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Store хранит последний envelope по каждому тикеру и последний сигнал.
type Store struct {
	client     kv
	ttl        time.Duration
	prefix     string
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New соединяется с Redis (с retry) и возвращает Store.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis: URL required")
	}
	log = log.Named("redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("addr", opts.Addr)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, op); err != nil {
		span.RecordError(err)
		span.End()
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("addr", opts.Addr))

	return newStore(client, cfg, log), nil
}

func newStore(client kv, cfg Config, log *logger.Logger) *Store {
	cfg.ApplyDefaults()
	return &Store{
		client:     client,
		ttl:        cfg.TTL,
		prefix:     cfg.KeyPrefix,
		log:        log,
		backoffCfg: cfg.Backoff,
	}
}

// Latest — то, что лежит под ключом <prefix>:latest:<TICKER>.
type Latest struct {
	When       time.Time `json:"when"`
	Tickers    []string  `json:"tickers"`
	Payload    any       `json:"payload"`
	RequestID  string    `json:"request_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Signal — последний управляющий сигнал от feed-сервера.
type Signal struct {
	Signal     string    `json:"signal"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	At         time.Time `json:"at"`
}

func (s *Store) latestKey(ticker string) string {
	return fmt.Sprintf("%s:latest:%s", s.prefix, strings.ToUpper(ticker))
}

func (s *Store) signalKey() string { return s.prefix + ":signal" }

func (s *Store) Name() string { return "redis" }

// Write сохраняет запись под ключом каждого (уникального) тикера.
func (s *Store) Write(ctx context.Context, rec sink.Record) error {
	ctx, span := tracer.Start(ctx, "Redis.Write", trace.WithAttributes(attribute.StringSlice("tickers", rec.Tickers)))
	defer span.End()

	data, err := json.Marshal(Latest{
		When:       rec.When,
		Tickers:    rec.Tickers,
		Payload:    rec.Payload,
		RequestID:  rec.RequestID,
		ReceivedAt: rec.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("redis write: marshal: %w", err)
	}

	seen := make(map[string]struct{}, len(rec.Tickers))
	for _, t := range rec.Tickers {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if err := s.set(ctx, s.latestKey(t), data, s.ttl); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// SaveSignal запоминает последний сигнал без TTL.
func (s *Store) SaveSignal(ctx context.Context, sig Signal) error {
	ctx, span := tracer.Start(ctx, "Redis.SaveSignal")
	defer span.End()

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis signal: marshal: %w", err)
	}
	if err := s.set(ctx, s.signalKey(), data, 0); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// LatestFor возвращает последнюю запись по тикеру или ErrNotFound.
func (s *Store) LatestFor(ctx context.Context, ticker string) (*Latest, error) {
	var out Latest
	if err := s.get(ctx, s.latestKey(ticker), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LastSignal возвращает последний сохранённый сигнал или ErrNotFound.
func (s *Store) LastSignal(ctx context.Context) (*Signal, error) {
	var out Signal
	if err := s.get(ctx, s.signalKey(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	op := func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	}
	if err := backoff.Execute(ctx, s.backoffCfg, s.log, op); err != nil {
		redisMetrics.SetErrors.Inc()
		s.log.WithContext(ctx).Error("redis SET failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	ctx, span := tracer.Start(ctx, "Redis.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	var raw []byte
	op := func(ctx context.Context) error {
		val, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		raw = val
		return nil
	}
	if err := backoff.Execute(ctx, s.backoffCfg, s.log, op); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		redisMetrics.GetErrors.Inc()
		span.RecordError(err)
		s.log.WithContext(ctx).Error("redis GET failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // как в envelope: большие целые не теряют точность
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("redis get %s: unmarshal: %w", key, err)
	}
	return nil
}

// Ping проверяет соединение.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
