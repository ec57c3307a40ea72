package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klaxon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_ingest_events_total",
			Help: "Total number of events received",
		},
		[]string{"tenant_id", "status"}, // status: accepted, rejected
	)

	// Evaluation metrics
	PolicyMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_policy_matches_total",
			Help: "Total number of events matching a policy's rules",
		},
		[]string{"policy_id"},
	)

	RuleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_rule_errors_total",
			Help: "Total number of rule evaluation errors (rule treated as non-matching)",
		},
		[]string{"reason"}, // reason: bad_regex, bad_operator
	)

	// Throttle metrics
	ThrottleDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_throttle_decisions_total",
			Help: "Throttle tracker decisions by outcome",
		},
		[]string{"decision"},
	)

	ThrottleStoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_throttle_store_errors_total",
			Help: "Suppression store failures observed by the throttle tracker (fail closed)",
		},
	)

	// Alert lifecycle metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_alert_transitions_total",
			Help: "Alert state transitions applied",
		},
		[]string{"to_status"},
	)

	// Dispatch metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_deliveries_total",
			Help: "Delivery records reaching a terminal status",
		},
		[]string{"provider_type", "status"},
	)

	DeliveryAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klaxon_delivery_attempt_duration_seconds",
			Help:    "Duration of individual provider send attempts",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider_type"},
	)

	DeliveryRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_delivery_retries_total",
			Help: "Total number of delivery retry attempts",
		},
	)

	SweepReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_dispatch_sweep_reconciled_total",
			Help: "Pending delivery records picked up by the reconciliation sweep",
		},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "klaxon_worker_queue_size",
			Help: "Current size of the event queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "klaxon_worker_queue_capacity",
			Help: "Capacity of the event queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_worker_processed_total",
			Help: "Total number of events processed by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_worker_failed_total",
			Help: "Total number of events that failed processing",
		},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_kafka_publish_total",
			Help: "Total number of audit records published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "klaxon_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	ConsumerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_consumer_events_total",
			Help: "Events read from Kafka by outcome",
		},
		[]string{"status"}, // status: submitted, decode_error, queue_full
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
