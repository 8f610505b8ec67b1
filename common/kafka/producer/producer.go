// common/kafka/producer/producer.go
package producer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/backoff"
	commonkafka "github.com/YaganovValera/feedbridge/common/kafka"
	"github.com/YaganovValera/feedbridge/common/logger"
)

// -----------------------------------------------------------------------------
// Service label (заполняется через common.InitServiceName)
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается из common.InitServiceName(..) один раз при старте.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Prometheus-метрики
// -----------------------------------------------------------------------------

// Счётчики размечены исходом ("ok"/"error"); публикации ещё и топиком,
// чтобы отличать поток данных от статусов.
var producerMetrics = struct {
	Connects       *prometheus.CounterVec
	Publishes      *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	PublishBytes   *prometheus.CounterVec
	Pings          *prometheus.CounterVec
}{
	Connects: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "kafka_producer", Name: "connects_total",
			Help: "Kafka producer connect attempts by result",
		},
		[]string{"service", "result"},
	),
	Publishes: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "kafka_producer", Name: "publishes_total",
			Help: "Published records by topic and result",
		},
		[]string{"service", "topic", "result"},
	),
	PublishLatency: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedbridge", Subsystem: "kafka_producer", Name: "publish_latency_seconds",
			Help:    "Publish latency including retries (seconds)",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"service", "topic"},
	),
	PublishBytes: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "kafka_producer", Name: "publish_bytes_total",
			Help: "Payload bytes accepted by the cluster",
		},
		[]string{"service", "topic"},
	),
	Pings: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "kafka_producer", Name: "pings_total",
			Help: "Metadata refreshes by result",
		},
		[]string{"service", "result"},
	),
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// -----------------------------------------------------------------------------
// Tracing
// -----------------------------------------------------------------------------

var tracer = otel.Tracer("feedbridge/kafka-producer")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config groups all tunables for a Kafka Sync-producer.
//
// Zero values are replaced with sane defaults by applyDefaults().
type Config struct {
	// Brokers — список адресов Kafka-брокеров.
	Brokers []string `mapstructure:"brokers"`

	// ClientID передаётся брокеру в каждом запросе.
	ClientID string `mapstructure:"client_id"`

	// Version — версия протокола Kafka ("2.1.0" и т.п.); пусто → дефолт Sarama.
	Version string `mapstructure:"version"`

	// RequiredAcks определяет стратегию подтверждения брокеров:
	//   "all" (дефолт) | "leader" | "none".
	RequiredAcks string `mapstructure:"required_acks"`

	// Timeout — максимальное время ожидания ack от кластера.
	Timeout time.Duration `mapstructure:"timeout"`

	// Compression указывает алгоритм сжатия:
	//   "none" (дефолт), "gzip", "snappy", "lz4", "zstd".
	Compression string `mapstructure:"compression"`

	// FlushFrequency — периодическое «смывание» буфера продьюсера.
	// Ноль → disable.
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`

	// FlushMessages — пороговое кол-во сообщений для смыва.
	// Ноль → disable.
	FlushMessages int `mapstructure:"flush_messages"`

	// Backoff описывает стратегию ретраев подключения и отправки.
	Backoff backoff.Config `mapstructure:"backoff"`
}

// applyDefaults заполняет zero-поля безопасными дефолтами.
func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.ClientID == "" {
		c.ClientID = "feedbridge"
	}
}

// validate выполняет быстрые sanity-checks.
func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("kafka producer: empty broker address")
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Private helpers
// -----------------------------------------------------------------------------

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID

	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: invalid Version %q: %w", c.Version, err)
		}
		sc.Version = v
	}

	// RequiredAcks
	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
		// идемпотентность Sarama допускает только при WaitForAll
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	// Producer common settings
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout

	// Flush params
	if c.FlushFrequency > 0 {
		sc.Producer.Flush.Frequency = c.FlushFrequency
	}
	if c.FlushMessages > 0 {
		sc.Producer.Flush.Messages = c.FlushMessages
	}

	// Compression
	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}

	return sc, nil
}

// -----------------------------------------------------------------------------
// Producer implementation
// -----------------------------------------------------------------------------

type kafkaProducer struct {
	prod       sarama.SyncProducer
	client     sarama.Client
	logger     *logger.Logger
	backoffCfg backoff.Config
}

// New создает SyncProducer c ретраями подключения. Ошибки конфигурации
// возвращаются до обращения к брокерам.
func New(ctx context.Context, cfg Config, log *logger.Logger) (commonkafka.Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	// Sarama config
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Kafka client
	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: new client: %w", err)
	}

	// Создаем продьюсер с back-off-подключением
	var syncProd sarama.SyncProducer
	connect := func(ctx context.Context) error {
		p, err := sarama.NewSyncProducerFromClient(client)
		producerMetrics.Connects.WithLabelValues(serviceLabel, result(err)).Inc()
		if err != nil {
			return err
		}
		syncProd = p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		_ = client.Close()
		log.WithContext(ctx).Error("kafka producer connect failed", zap.Error(err))
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}
	span.End()

	// Оборачиваем для OpenTelemetry
	wrapped := otelsarama.WrapSyncProducer(sc, syncProd)

	log.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers))
	return &kafkaProducer{
		prod:       wrapped,
		client:     client,
		logger:     log,
		backoffCfg: cfg.Backoff,
	}, nil
}

// nonRetryable — ответы брокера, которые повтор не исправит: запись
// слишком велика, битая, или топик недоступен этому клиенту.
var nonRetryable = []error{
	sarama.ErrMessageSizeTooLarge,
	sarama.ErrInvalidMessage,
	sarama.ErrInvalidTopic,
	sarama.ErrTopicAuthorizationFailed,
	sarama.ErrClusterAuthorizationFailed,
}

func isRetryable(err error) bool {
	for _, e := range nonRetryable {
		if errors.Is(err, e) {
			return false
		}
	}
	return true
}

// Publish отправляет запись в topic. Ключ (тикер) определяет партицию, так
// что записи одного инструмента сохраняют порядок. Сетевые ошибки
// повторяются по backoffCfg, отказы из nonRetryable возвращаются сразу.
func (k *kafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.kafka.message_key", string(key)),
		attribute.Int("messaging.message_payload_size_bytes", len(value)),
	))
	defer span.End()

	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(value)}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	var partition int32
	var offset int64
	send := func(context.Context) error {
		var err error
		partition, offset, err = k.prod.SendMessage(msg)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	start := time.Now()
	err := backoff.Execute(ctx, k.backoffCfg, k.logger, send)
	producerMetrics.PublishLatency.WithLabelValues(serviceLabel, topic).Observe(time.Since(start).Seconds())
	producerMetrics.Publishes.WithLabelValues(serviceLabel, topic, result(err)).Inc()
	log := k.logger.WithContext(ctx).With(zap.String("topic", topic), zap.ByteString("key", key))

	if err != nil {
		span.RecordError(err)
		log.Error("publish failed", zap.Error(err))
		return fmt.Errorf("kafka producer: publish %s: %w", topic, err)
	}

	producerMetrics.PublishBytes.WithLabelValues(serviceLabel, topic).Add(float64(len(value)))
	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	log.Debug("published", zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

// Ping обновляет метаданные клиента, проверяя доступность кластера.
func (k *kafkaProducer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if k.client == nil {
		return nil
	}
	err := k.client.RefreshMetadata()
	producerMetrics.Pings.WithLabelValues(serviceLabel, result(err)).Inc()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Close корректно закрывает продьюсер и клиент.
func (k *kafkaProducer) Close() error {
	if err := k.prod.Close(); err != nil {
		k.logger.Error("producer close failed", zap.Error(err))
		return fmt.Errorf("kafka producer: close: %w", err)
	}
	if k.client == nil {
		return nil
	}
	if err := k.client.Close(); err != nil {
		k.logger.Error("client close failed", zap.Error(err))
		return fmt.Errorf("kafka producer: close client: %w", err)
	}
	k.logger.Info("kafka producer closed")
	return nil
}
