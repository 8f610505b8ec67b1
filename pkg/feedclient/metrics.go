package feedclient

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedclient", Name: "requests_total",
		Help: "Outbound feed requests by operation and status code",
	}, []string{"op", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feedclient", Name: "request_duration_seconds",
		Help:    "Outbound feed request latency (seconds)",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	inboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedclient", Name: "inbound_total",
		Help: "Inbound pushes received by endpoint",
	}, []string{"endpoint"})
)

// RegisterMetrics registers the client collectors once. A nil registerer
// selects prometheus.DefaultRegisterer.
func RegisterMetrics(r prometheus.Registerer) {
	registerOnce.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{requestsTotal, requestDuration, inboundTotal} {
			_ = r.Register(c)
		}
	})
}
