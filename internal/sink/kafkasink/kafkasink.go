// internal/sink/kafkasink/kafkasink.go

package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	commonkafka "github.com/YaganovValera/feedbridge/common/kafka"
	"github.com/YaganovValera/feedbridge/common/kafka/producer"
	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/sink"
)

var tracer = otel.Tracer("feedbridge/sink/kafka")

// Config описывает топик и формат сообщений.
type Config struct {
	Enabled  bool            `mapstructure:"enabled"`
	Topic    string          `mapstructure:"topic"`
	Encoding string          `mapstructure:"encoding"` // "proto" (дефолт) | "json"
	Producer producer.Config `mapstructure:"producer"`
}

func (c *Config) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "feed.envelopes"
	}
	if c.Encoding == "" {
		c.Encoding = "proto"
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch strings.ToLower(c.Encoding) {
	case "proto", "json":
	default:
		return fmt.Errorf("kafka-sink: invalid encoding %q", c.Encoding)
	}
	if len(c.Producer.Brokers) == 0 {
		return fmt.Errorf("kafka-sink: producer.brokers required")
	}
	return nil
}

// Sink публикует записи в Kafka как google.protobuf.Struct с ключом по
// первому тикеру.
type Sink struct {
	producer commonkafka.Producer
	topic    string
	json     bool
	log      *logger.Logger
}

// New создаёт Kafka sink поверх готового продьюсера.
func New(p commonkafka.Producer, cfg Config, log *logger.Logger) *Sink {
	cfg.ApplyDefaults()
	return &Sink{
		producer: p,
		topic:    cfg.Topic,
		json:     strings.EqualFold(cfg.Encoding, "json"),
		log:      log.Named("kafka-sink"),
	}
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Write(ctx context.Context, rec sink.Record) error {
	ctx, span := tracer.Start(ctx, "KafkaSink.Write",
		trace.WithAttributes(
			attribute.String("topic", s.topic),
			attribute.StringSlice("tickers", rec.Tickers),
		),
	)
	defer span.End()

	msg, err := Encode(rec)
	if err != nil {
		span.RecordError(err)
		s.log.WithContext(ctx).Error("encode record failed", zap.Error(err))
		return fmt.Errorf("kafka-sink: encode: %w", err)
	}

	var value []byte
	if s.json {
		value, err = protojson.Marshal(msg)
	} else {
		value, err = proto.Marshal(msg)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka-sink: marshal: %w", err)
	}

	var key []byte
	if len(rec.Tickers) > 0 {
		key = []byte(rec.Tickers[0])
	}
	if err := s.producer.Publish(ctx, s.topic, key, value); err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka-sink: publish: %w", err)
	}
	return nil
}

// Ping проверяет доступность кластера.
func (s *Sink) Ping(ctx context.Context) error { return s.producer.Ping(ctx) }

func (s *Sink) Close() error { return s.producer.Close() }

// Encode переводит запись в structpb.Struct. Числа payload приходят как
// json.Number: structpb хранит только double, поэтому целые за пределами
// 2^53 уходят строкой, без потери цифр.
func Encode(rec sink.Record) (*structpb.Struct, error) {
	tickers := make([]any, len(rec.Tickers))
	for i, t := range rec.Tickers {
		tickers[i] = t
	}
	fields := map[string]any{
		"when":    rec.When.UTC().Format(time.RFC3339Nano),
		"tickers": tickers,
		"payload": structValue(rec.Payload),
	}
	if rec.RemoteAddr != "" {
		fields["remote_addr"] = rec.RemoteAddr
	}
	if rec.RequestID != "" {
		fields["request_id"] = rec.RequestID
	}
	if !rec.ReceivedAt.IsZero() {
		fields["received_at"] = rec.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

// maxExactInt — предел целых, которые double хранит точно.
const maxExactInt = 1 << 53

func structValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if n, err := x.Int64(); err == nil && n <= maxExactInt && n >= -maxExactInt {
				return float64(n)
			}
			return x.String()
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = structValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = structValue(e)
		}
		return out
	}
	return v
}
