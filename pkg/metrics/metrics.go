package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_worker_messages_total",
			Help: "Total number of pub/sub messages by outcome (ack, nack, dlq)",
		},
		[]string{"outcome"},
	)

	MessagesByProcessor = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_worker_messages_by_processor_total",
			Help: "Total number of messages by processor tag",
		},
		[]string{"processor"},
	)

	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_worker_processing_duration_seconds",
			Help:    "Per-message processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InFlightMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_worker_in_flight_messages",
			Help: "Number of messages currently being processed",
		},
	)

	// Notification metrics
	NotificationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_worker_notifications_created_total",
			Help: "Total number of notifications persisted",
		},
	)

	NotificationsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_worker_notifications_duplicate_total",
			Help: "Total number of notifications skipped as duplicates",
		},
	)

	NotificationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_worker_notification_errors_total",
			Help: "Total number of per-row notification write failures",
		},
	)

	// Delivery metrics
	EmailsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_worker_emails_published_total",
			Help: "Total number of email publishes by channel (immediate, digest)",
		},
		[]string{"channel"},
	)

	RealtimePublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_worker_realtime_published_total",
			Help: "Total number of realtime events published",
		},
	)

	DLQPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_worker_dlq_published_total",
			Help: "Total number of messages routed to the dead-letter topic",
		},
	)

	// Store metrics
	DatabaseRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_worker_database_retries_total",
			Help: "Total number of retried INSERT attempts after transient errors",
		},
	)

	InsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_worker_insert_duration_seconds",
			Help:    "Notification INSERT duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(MessagesByProcessor)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(InFlightMessages)
	prometheus.MustRegister(NotificationsCreated)
	prometheus.MustRegister(NotificationsDuplicate)
	prometheus.MustRegister(NotificationErrors)
	prometheus.MustRegister(EmailsPublished)
	prometheus.MustRegister(RealtimePublished)
	prometheus.MustRegister(DLQPublished)
	prometheus.MustRegister(DatabaseRetries)
	prometheus.MustRegister(InsertDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
