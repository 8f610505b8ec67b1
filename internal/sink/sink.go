// Package sink fans decoded feed pushes out to storage and transport
// backends.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/metrics"
	"github.com/YaganovValera/feedbridge/pkg/envelope"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

var tracer = otel.Tracer("feedbridge/sink")

// Record is one decoded push.
type Record struct {
	When       time.Time
	Tickers    []string
	Payload    any
	RemoteAddr string
	RequestID  string
	ReceivedAt time.Time
}

// Sink consumes records. Write must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Pinger is implemented by sinks with a reachable backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FromEnvelope resolves the payload and builds a Record.
func FromEnvelope(d *envelope.Data, meta feedclient.RequestMeta) (Record, error) {
	payload, err := d.Payload()
	if err != nil {
		return Record{}, err
	}
	return Record{
		When:       d.When(),
		Tickers:    d.Tickers(),
		Payload:    payload,
		RemoteAddr: meta.RemoteAddr,
		RequestID:  meta.RequestID,
		ReceivedAt: meta.ReceivedAt,
	}, nil
}

// Fanout writes every record to all sinks.
type Fanout struct {
	sinks []Sink
	log   *logger.Logger
}

func NewFanout(log *logger.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, log: log.Named("fanout")}
}

func (f *Fanout) Len() int { return len(f.sinks) }

// Write hands the record to every sink and joins the failures.
func (f *Fanout) Write(ctx context.Context, rec Record) error {
	ctx, span := tracer.Start(ctx, "Fanout.Write",
		trace.WithAttributes(attribute.StringSlice("tickers", rec.Tickers)))
	defer span.End()

	var errs []error
	for _, s := range f.sinks {
		start := time.Now()
		err := s.Write(ctx, rec)
		metrics.SinkLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SinkWrites.WithLabelValues(s.Name(), "error").Inc()
			f.log.WithContext(ctx).Error("sink write failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.SinkWrites.WithLabelValues(s.Name(), "ok").Inc()
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Ping checks every sink implementing Pinger.
func (f *Fanout) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range f.sinks {
		if p, ok := s.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes sinks in reverse order.
func (f *Fanout) Close() error {
	var errs []error
	for i := len(f.sinks) - 1; i >= 0; i-- {
		if err := f.sinks[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.sinks[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
