package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgesched_queue_depth",
			Help: "Number of ScheduledTasks currently queued",
		},
	)

	ActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgesched_active_tasks",
			Help: "Number of tasks currently holding a worker permit",
		},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgesched_tasks_total",
			Help: "Total number of tasks by terminal status",
		},
		[]string{"status"},
	)

	TaskRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgesched_task_retries_total",
			Help: "Total number of task re-enqueues after a retryable failure",
		},
	)

	QueueFullTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgesched_queue_full_total",
			Help: "Total number of submissions rejected because the queue was full",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgesched_scheduling_latency_seconds",
			Help:    "Time from worker-loop pickup to terminal outcome, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Container Manager metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgesched_containers_total",
			Help: "Number of containers currently tracked, by lifecycle state",
		},
		[]string{"state"},
	)

	ContainersScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgesched_containers_scheduled_total",
			Help: "Total number of containers successfully created and started",
		},
	)

	ContainersFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgesched_containers_failed_total",
			Help: "Total number of container create/start failures",
		},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgesched_container_create_duration_seconds",
			Help:    "Time taken to synthesize a bundle and start a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	BundlesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgesched_bundles_reaped_total",
			Help: "Total number of stale bundle directories removed by the debug-mode reaper",
		},
	)

	// Executor metrics
	ExecutorPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgesched_executor_polls_total",
			Help: "Total number of result-artifact poll iterations across all executions",
		},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgesched_execution_duration_seconds",
			Help:    "Executor invocation duration in seconds, by algorithm",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"algorithm"},
	)

	// Load Balancer metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgesched_workers_total",
			Help: "Number of registered workers, by health status",
		},
		[]string{"healthy"},
	)

	StrategySelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgesched_strategy_selections_total",
			Help: "Total number of selections made by each load balancer strategy",
		},
		[]string{"strategy"},
	)

	// HTTP surface metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgesched_api_requests_total",
			Help: "Total number of HTTP API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgesched_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ActiveTasks)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskRetriesTotal)
	prometheus.MustRegister(QueueFullTotal)
	prometheus.MustRegister(SchedulingLatency)

	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ContainersScheduled)
	prometheus.MustRegister(ContainersFailed)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(BundlesReapedTotal)

	prometheus.MustRegister(ExecutorPollsTotal)
	prometheus.MustRegister(ExecutionDuration)

	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(StrategySelectionsTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
