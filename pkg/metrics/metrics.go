package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Message lifecycle metrics
	MessagesCreated   prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesFailed    *prometheus.CounterVec
	MessagesRetried   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram

	// Processed-event ledger metrics
	LedgerClaims     prometheus.Counter
	LedgerSkips      *prometheus.CounterVec
	LedgerFailures   prometheus.Counter
	ConsumerLag      prometheus.Gauge
	EventsConsumed   *prometheus.CounterVec
	ConsumeLatency   prometheus.Histogram

	// Event store metrics
	AppendOperations   *prometheus.CounterVec
	AppendConflicts    prometheus.Counter
	SnapshotWrites     prometheus.Counter
	StoreLatency       *prometheus.HistogramVec

	// Scheduler metrics
	JobsEnqueued  prometheus.Counter
	JobsDue       prometheus.Gauge
	JobsDelivered prometheus.Counter
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		MessagesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_created_total",
			Help:      "Total number of messages accepted for delivery",
		}),
		MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered to the transport",
		}),
		MessagesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_failed_total",
			Help:      "Total number of permanently failed messages",
		}, []string{"reason"}),
		MessagesRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_retried_total",
			Help:      "Total number of retry attempts scheduled",
		}, []string{"reason"}),
		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent on a single delivery attempt",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		LedgerClaims: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_claims_total",
			Help:      "Total number of successful processed-event ledger claims",
		}),
		LedgerSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_skips_total",
			Help:      "Total number of events skipped by the ledger",
		}, []string{"cause"}),
		LedgerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_failures_total",
			Help:      "Total number of consumed events that ended in failure",
		}),
		ConsumerLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consumer_lag_events",
			Help:      "Approximate number of unconsumed live events",
		}),
		EventsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_consumed_total",
			Help:      "Total number of live events observed by the consumer",
		}, []string{"event_type"}),
		ConsumeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consume_duration_seconds",
			Help:      "Time spent handling a single live event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		AppendOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_appends_total",
			Help:      "Total number of event stream append operations",
		}, []string{"status"}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_append_conflicts_total",
			Help:      "Total number of optimistic concurrency conflicts on append",
		}),
		SnapshotWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_writes_total",
			Help:      "Total number of aggregate snapshots written",
		}),
		StoreLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of event store operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_jobs_enqueued_total",
			Help:      "Total number of delayed jobs enqueued",
		}),
		JobsDue: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_jobs_due",
			Help:      "Number of delayed jobs currently due for dispatch",
		}),
		JobsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_jobs_delivered_total",
			Help:      "Total number of delayed jobs handed back to the consumer",
		}),
	}
}
