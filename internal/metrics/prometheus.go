package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics exposing the attack's operational state on the ops
// HTTP server, independent of the aggregated request/task/error counters
// reported to the controller.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swanling_requests_total",
			Help: "Total number of requests issued, by method, name, and outcome",
		},
		[]string{"method", "name", "outcome"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swanling_request_duration_seconds",
			Help:    "Request duration in seconds, by method and name",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"method", "name"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swanling_tasks_total",
			Help: "Total number of task invocations, by task name and outcome",
		},
		[]string{"task", "outcome"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swanling_errors_total",
			Help: "Total number of request failures, by method, name, and error string",
		},
		[]string{"method", "name", "error"},
	)

	UsersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swanling_users_active",
			Help: "Current number of simulated users running",
		},
	)

	AttackState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swanling_attack_state",
			Help: "Current supervisor phase (0=idle,1=starting,2=running,3=stopping,4=shutdown)",
		},
	)

	SynthesizedSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swanling_synthesized_samples_total",
			Help: "Total number of request samples synthesized by coordinated-omission mitigation",
		},
		[]string{"method", "name"},
	)

	ThrottleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swanling_throttle_queue_depth",
			Help: "Current number of tokens buffered in the request throttle",
		},
	)
)

// ObserveRequest records one completed request on the Prometheus vectors.
func ObserveRequest(method, name string, elapsedSeconds float64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	RequestsTotal.WithLabelValues(method, name, outcome).Inc()
	RequestDurationSeconds.WithLabelValues(method, name).Observe(elapsedSeconds)
}

// ObserveTask records one completed task invocation.
func ObserveTask(name string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	TasksTotal.WithLabelValues(name, outcome).Inc()
}

// ObserveError records one request failure against the error-summary vector.
func ObserveError(method, name, errString string) {
	ErrorsTotal.WithLabelValues(method, name, errString).Inc()
}
