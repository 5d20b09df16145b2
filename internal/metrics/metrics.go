package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
ClientMetrics covers both halves of the board client:

- Requests / RequestDuration: every REST call, labelled by operation
  ("list_suggestions", "cast_vote", ...) and HTTP status ("error" when the
  request never got a response).

- Events: realtime envelopes received, labelled by event name.

- Reconnects: how often the realtime channel had to be re-dialed.

Metrics are registered on the registry handed to NewClientMetrics, so tests and
multiple clients in one process don't collide on the global registry.
All methods are safe on a nil *ClientMetrics.
*/
type ClientMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Events          *prometheus.CounterVec
	Reconnects      prometheus.Counter
}

func NewClientMetrics(reg prometheus.Registerer, namespace string) *ClientMetrics {
	factory := promauto.With(reg)
	return &ClientMetrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of REST requests by operation and status",
			},
			[]string{"op", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Histogram of REST request latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
			},
			[]string{"op"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "events_total",
				Help:      "Total number of realtime events received",
			},
			[]string{"event"},
		),
		Reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "reconnects_total",
				Help:      "Total number of realtime reconnect attempts",
			},
		),
	}
}

func (m *ClientMetrics) ObserveRequest(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, status).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *ClientMetrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(event).Inc()
}

func (m *ClientMetrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}
