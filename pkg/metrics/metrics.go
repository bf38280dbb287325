package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listd_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_messages_received_total",
			Help: "Total number of messages received for processing",
		},
		[]string{"kind"},
	)
)

// Pipeline metrics
var (
	PostsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_posts_processed_total",
			Help: "Total number of posts run through the filter pipeline",
		},
		[]string{"action"},
	)

	PostProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listd_post_processing_duration_seconds",
			Help:    "Duration of filter pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_requests_processed_total",
			Help: "Total number of list command requests processed",
		},
		[]string{"command", "status"},
	)

	RecipientsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listd_recipients_scheduled_total",
			Help: "Total number of immediate recipients scheduled for delivery",
		},
	)

	DigestRecipientsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listd_digest_recipients_scheduled_total",
			Help: "Total number of recipients scheduled for digest delivery",
		},
	)
)

// Queue metrics
var (
	QueueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listd_queue_entries",
			Help: "Current number of entries per queue",
		},
		[]string{"queue"},
	)

	QueueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_queue_operations_total",
			Help: "Total number of queue insert/delete operations",
		},
		[]string{"queue", "operation"},
	)

	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_relay_deliveries_total",
			Help: "Total number of outbound delivery attempts",
		},
		[]string{"result"},
	)

	RelayDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listd_relay_delivery_duration_seconds",
			Help:    "Duration of outbound SMTP deliveries in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
	)

	DigestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listd_digests_sent_total",
			Help: "Total number of digest messages assembled and queued",
		},
	)
)

// Database performance metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status", "role"},
	)

	DBTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listd_db_transactions_total",
			Help: "Total number of database transactions by outcome",
		},
		[]string{"outcome"},
	)

	DBTransactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listd_db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listd_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation", "role"},
	)

	ListsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listd_lists_total",
			Help: "Total number of mailing lists",
		},
	)

	SubscriptionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listd_subscriptions_total",
			Help: "Total number of list subscriptions",
		},
	)
)
