package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages enqueued counter
	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqs_messages_enqueued_total",
			Help: "Total number of messages enqueued",
		},
		[]string{"queue"},
	)

	// Messages received counter
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqs_messages_received_total",
			Help: "Total number of messages received",
		},
		[]string{"queue"},
	)

	// Messages acknowledged counter
	MessagesAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_acked_total",
			Help: "Total number of messages acknowledged",
		},
	)

	// Messages made visible again by the sweeper
	MessagesRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_requeued_total",
			Help: "Total number of messages requeued by sweeper",
		},
	)

	// Messages sent to DLQ
	MessagesDLQd = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_dlq_total",
			Help: "Total number of messages sent to DLQ",
		},
	)

	// Messages dropped past retention
	MessagesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_expired_total",
			Help: "Total number of messages dropped after the retention period",
		},
	)

	// Messages moved by move tasks (redrive)
	MessagesRedriven = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_redriven_total",
			Help: "Total number of messages moved back by move tasks",
		},
	)

	MoveTasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_move_tasks_started_total",
			Help: "Total number of move tasks started",
		},
	)

	MoveTaskConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_move_task_conflicts_total",
			Help: "Total number of move task requests rejected because one was already running",
		},
	)

	// Sweeper run duration
	SweeperDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqs_sweeper_duration_seconds",
			Help:    "Time taken for sweeper to process messages",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sweeper errors counter
	SweeperErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_sweeper_errors_total",
			Help: "Total number of sweeper errors",
		},
	)

	// Objects written by the batch consumer
	BucketItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_bucket_items_total",
			Help: "Total number of order items written to the object store",
		},
	)

	// Records the batch consumer left for redelivery, by reason
	RecordFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_record_failures_total",
			Help: "Total number of records left for redelivery",
		},
		[]string{"reason"},
	)

	RedriveRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_redrive_requests_total",
			Help: "Redrive invocations by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_invocation_duration_seconds",
			Help:    "Handler invocation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	InvocationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_invocation_errors_total",
			Help: "Handler invocations that returned an error",
		},
		[]string{"handler"},
	)
)
