package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	reconcileOnce     sync.Once
	reconcileRegistry *ReconcileMetrics

	actionsOnce     sync.Once
	actionsRegistry *ActionMetrics
)

// API returns the lazily-initialised metrics registry used to record HTTP API
// activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and method.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "aethos",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason.
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// ReconcileMetrics captures reconciliation pass outcomes and the latest
// protocol aggregates.
type ReconcileMetrics struct {
	passes     *prometheus.CounterVec
	latency    prometheus.Histogram
	superseded prometheus.Counter
	stale      prometheus.Gauge
	totals     *prometheus.GaugeVec
	published  prometheus.Counter
}

// Reconcile returns the singleton reconciliation metrics registry.
func Reconcile() *ReconcileMetrics {
	reconcileOnce.Do(func() {
		reconcileRegistry = &ReconcileMetrics{
			passes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "reconcile",
				Name:      "passes_total",
				Help:      "Reconciliation passes segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "aethos",
				Subsystem: "reconcile",
				Name:      "pass_duration_seconds",
				Help:      "Duration of reconciliation passes including ledger reads.",
				Buckets:   prometheus.DefBuckets,
			}),
			superseded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "reconcile",
				Name:      "superseded_total",
				Help:      "Pass results discarded because a newer pass or account superseded them.",
			}),
			stale: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "aethos",
				Subsystem: "reconcile",
				Name:      "view_stale",
				Help:      "Set to 1 while the published view is stale.",
			}),
			totals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "aethos",
				Subsystem: "pool",
				Name:      "total_base_units",
				Help:      "Latest protocol aggregate figures in ledger base units.",
			}, []string{"figure"}),
			published: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "store",
				Name:      "views_published_total",
				Help:      "Number of views published to the snapshot store.",
			}),
		}
		prometheus.MustRegister(
			reconcileRegistry.passes,
			reconcileRegistry.latency,
			reconcileRegistry.superseded,
			reconcileRegistry.stale,
			reconcileRegistry.totals,
			reconcileRegistry.published,
		)
	})
	return reconcileRegistry
}

// ObservePass records a completed pass. outcome should be one of "ok",
// "read_error", "error" or "superseded".
func (m *ReconcileMetrics) ObservePass(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.latency.Observe(d.Seconds())
	if outcome == "superseded" {
		m.superseded.Inc()
	}
}

// SetStale toggles the stale gauge.
func (m *ReconcileMetrics) SetStale(stale bool) {
	if m == nil {
		return
	}
	if stale {
		m.stale.Set(1)
		return
	}
	m.stale.Set(0)
}

// RecordTotal exports a protocol aggregate.
func (m *ReconcileMetrics) RecordTotal(figure string, value *big.Int) {
	if m == nil {
		return
	}
	m.totals.WithLabelValues(strings.ToLower(strings.TrimSpace(figure))).Set(bigToFloat(value))
}

// RecordPublish counts a store replacement.
func (m *ReconcileMetrics) RecordPublish() {
	if m == nil {
		return
	}
	m.published.Inc()
}

// ActionMetrics tracks the action orchestrator.
type ActionMetrics struct {
	actions      *prometheus.CounterVec
	pending      prometheus.Gauge
	confirmation *prometheus.HistogramVec
}

// Actions returns the singleton action metrics registry.
func Actions() *ActionMetrics {
	actionsOnce.Do(func() {
		actionsRegistry = &ActionMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aethos",
				Subsystem: "actions",
				Name:      "total",
				Help:      "Actions segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "aethos",
				Subsystem: "actions",
				Name:      "pending",
				Help:      "Actions currently awaiting confirmation.",
			}),
			confirmation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "aethos",
				Subsystem: "actions",
				Name:      "confirmation_seconds",
				Help:      "Time from submission to terminal receipt.",
				Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
			}, []string{"kind"}),
		}
		prometheus.MustRegister(actionsRegistry.actions, actionsRegistry.pending, actionsRegistry.confirmation)
	})
	return actionsRegistry
}

// RecordOutcome counts an action that reached a terminal or rejected state.
func (m *ActionMetrics) RecordOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(labelKind(kind), outcome).Inc()
}

// PendingDelta adjusts the pending gauge.
func (m *ActionMetrics) PendingDelta(delta float64) {
	if m == nil {
		return
	}
	m.pending.Add(delta)
}

// ObserveConfirmation records how long an action waited for its receipt.
func (m *ActionMetrics) ObserveConfirmation(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmation.WithLabelValues(labelKind(kind)).Observe(d.Seconds())
}

func labelKind(kind string) string {
	trimmed := strings.TrimSpace(kind)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
