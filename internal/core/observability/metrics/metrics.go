// Package metrics exports world, persistence and gateway counters to
// prometheus. Label values are bounded: categories, operation kinds and
// fixed reasons, never handles or names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zeusync/worldcore/internal/core/events/bus"
)

const namespace = "worldcore"

type Metrics struct {
	tickDuration prometheus.Histogram
	ticks        prometheus.Counter
	entities     *prometheus.GaugeVec
	sessions     prometheus.Gauge
	notices      *prometheus.CounterVec
	updateErrors prometheus.Counter

	dbOps        *prometheus.CounterVec
	dbDuration   *prometheus.HistogramVec
	dbRetries    prometheus.Counter
	dbQueueDepth prometheus.Gauge

	events     *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	httpReqs   *prometheus.CounterVec
	httpTiming *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one world tick",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "World ticks run",
		}),
		entities: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Registered entities per category",
		}, []string{"category"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live client sessions",
		}),
		notices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visibility_notices_total",
			Help:      "Enter and leave notices produced by the region grid",
		}, []string{"kind"}),
		updateErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_update_errors_total",
			Help:      "Entity updates that returned an error",
		}),
		dbOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_operations_total",
			Help:      "Database operations by kind and result",
		}, []string{"kind", "result"}),
		dbDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Database operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		dbRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_transaction_retries_total",
			Help:      "Transactions retried after a lock conflict",
		}),
		dbQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_queue_depth",
			Help:      "Async operations waiting for a worker",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events published on the bus",
		}, []string{"kind", "result"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_rejected_total",
			Help:      "Connections or packets rejected by the gateway",
		}, []string{"reason"}),
		httpReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		httpTiming: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) SetEntities(category string, n int) {
	m.entities.WithLabelValues(category).Set(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

func (m *Metrics) Notice(kind string) {
	m.notices.WithLabelValues(kind).Inc()
}

func (m *Metrics) UpdateError() {
	m.updateErrors.Inc()
}

// Rejected counts a gateway rejection. reason must be a fixed string such
// as "rate_limit", "full" or "frame".
func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Request(method, endpoint string, status int, d time.Duration) {
	m.httpReqs.WithLabelValues(method, endpoint, statusClass(status)).Inc()
	m.httpTiming.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// OperationDone implements persist.Observer.
func (m *Metrics) OperationDone(kind string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dbOps.WithLabelValues(kind, result).Inc()
	m.dbDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) TransactionRetried() {
	m.dbRetries.Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	m.dbQueueDepth.Set(float64(depth))
}

// OnPublish implements bus.EventBusObserver.
func (m *Metrics) OnPublish(bus.Event) {}

func (m *Metrics) OnDelivered(event bus.Event, _ int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(string(event.Kind), result).Inc()
}
