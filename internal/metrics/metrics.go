package metrics

import (
	"sync"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zoho_sync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Queue tasks processed by object type and outcome.",
		},
		[]string{"object_type", "outcome"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent processing one queue task.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"object_type"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_tasks",
			Help:      "Queue tasks by status.",
		},
		[]string{"status"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "OAuth token refreshes by service and result.",
		},
		[]string{"service", "result"},
	)

	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Requests sent to remote APIs by service, operation and status class.",
		},
		[]string{"service", "op", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, tasksProcessed, taskDuration, queueDepth, tokenRefreshes, remoteRequests)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncTask(objectType, outcome string) {
	tasksProcessed.WithLabelValues(objectType, outcome).Inc()
}

func ObserveTask(objectType string, seconds float64) {
	taskDuration.WithLabelValues(objectType).Observe(seconds)
}

func SetQueueCounts(c models.QueueCounts) {
	queueDepth.WithLabelValues(models.StatusPending).Set(float64(c.Pending))
	queueDepth.WithLabelValues(models.StatusProcessing).Set(float64(c.Processing))
	queueDepth.WithLabelValues(models.StatusFailed).Set(float64(c.Failed))
	queueDepth.WithLabelValues(models.StatusCompleted).Set(float64(c.Completed))
}

func IncTokenRefresh(service, result string) {
	tokenRefreshes.WithLabelValues(service, result).Inc()
}

func IncRemote(service, op, status string) {
	remoteRequests.WithLabelValues(service, op, status).Inc()
}
