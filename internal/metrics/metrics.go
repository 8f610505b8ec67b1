package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EnvelopesTotal — число принятых data-push'ей.
	EnvelopesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedbridge",
		Subsystem: "pipeline",
		Name:      "envelopes_total",
		Help:      "Total number of data pushes handed to the pipeline",
	})

	// DecodeErrors — payload не удалось распаковать или разобрать.
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedbridge",
		Subsystem: "pipeline",
		Name:      "decode_errors_total",
		Help:      "Total number of envelopes whose payload failed to decode",
	})

	// SignalsTotal — число принятых signal-push'ей.
	SignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedbridge",
		Subsystem: "pipeline",
		Name:      "signals_total",
		Help:      "Total number of control signals received",
	})

	// SinkWrites — записи по sink'ам и результату (ok|error).
	SinkWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbridge",
		Subsystem: "sink",
		Name:      "writes_total",
		Help:      "Sink writes by sink and result",
	}, []string{"sink", "result"})

	// SinkLatency — длительность записи в sink.
	SinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feedbridge",
		Subsystem: "sink",
		Name:      "write_latency_seconds",
		Help:      "Sink write latency (seconds)",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sink"})

	// FeedRegistered — 1, пока адрес зарегистрирован на feed-сервере.
	FeedRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedbridge",
		Subsystem: "feed",
		Name:      "registered",
		Help:      "1 while the inbound address is registered with the feed server",
	})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			EnvelopesTotal,
			DecodeErrors,
			SignalsTotal,
			SinkWrites,
			SinkLatency,
			FeedRegistered,
		)
	})
}
