package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPServerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prtgalert_http_server_errors_total",
			Help: "Status API listener failures",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prtgalert_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Poll loop metrics
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_poll_cycles_total",
			Help: "Total number of poll cycles by result",
		},
		[]string{"result"}, // result: ok, empty, fetch_error, cycle_error
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prtgalert_fetch_duration_seconds",
			Help:    "Time taken to fetch the sensor list",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	SensorsFetched = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prtgalert_sensors_fetched",
			Help: "Number of sensors in the last successful fetch",
		},
	)

	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prtgalert_consecutive_failures",
			Help: "Current count of consecutive failed poll cycles",
		},
	)

	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prtgalert_escalations_total",
			Help: "Total number of connectivity failure escalations",
		},
	)

	// Detector metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_decisions_total",
			Help: "Total number of detector decisions by kind",
		},
		[]string{"kind"}, // kind: skipped, new, no_change, down, recovered
	)

	RecoveryDowntimeMinutes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prtgalert_recovery_downtime_minutes",
			Help:    "Downtime of recovered sensors in minutes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 720, 1440},
		},
	)

	// Store metrics
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"op", "status"}, // status: success, failed
	)

	// Dispatch metrics
	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prtgalert_dispatch_queue_size",
			Help: "Current size of the notification dispatch queue",
		},
	)

	DispatchQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prtgalert_dispatch_queue_capacity",
			Help: "Capacity of the notification dispatch queue",
		},
	)

	DispatchDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prtgalert_dispatch_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"channel", "category", "status"}, // status: success, failed
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prtgalert_notification_duration_seconds",
			Help:    "Time taken to deliver a notification on a channel",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15},
		},
		[]string{"channel"},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prtgalert_kafka_publish_duration_seconds",
			Help:    "Time taken to publish a notification event to Kafka",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prtgalert_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prtgalert_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prtgalert_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
