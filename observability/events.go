package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	subscribers prometheus.Gauge
	delivered   *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking view change notifications
// streamed to API clients.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "aethos",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Connected event stream subscribers.",
			}),
			delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Change notifications written to subscribers, segmented by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(eventRegistry.subscribers, eventRegistry.delivered)
	})
	return eventRegistry
}

// Connected adjusts the subscriber gauge.
func (m *eventMetrics) Connected(delta float64) {
	if m == nil {
		return
	}
	m.subscribers.Add(delta)
}

// RecordDelivery counts a notification write.
func (m *eventMetrics) RecordDelivery(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.delivered.WithLabelValues(result).Inc()
}
