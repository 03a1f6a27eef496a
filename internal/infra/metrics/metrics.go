// Package metrics provides Prometheus metrics for gridpool.
// Counters, gauges and histograms for task dispatch, worker health and runs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tutu-network/gridpool/internal/domain"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksDispatched tracks TASK messages sent, split by fresh and reassigned.
var TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gridpool",
	Name:      "tasks_dispatched_total",
	Help:      "Total TASK messages sent to workers.",
}, []string{"kind"})

// ResultsReceived tracks RESULT messages accepted per worker.
var ResultsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gridpool",
	Name:      "results_received_total",
	Help:      "Total RESULT messages accepted by the coordinator.",
}, []string{"worker"})

// TasksInFlight tracks tasks sent but not yet answered.
var TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "gridpool",
	Name:      "tasks_in_flight",
	Help:      "Number of tasks currently held by workers.",
})

// TaskLatency tracks time from TASK sent to RESULT received.
var TaskLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gridpool",
	Name:      "task_latency_seconds",
	Help:      "Round trip from TASK to RESULT.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// ─── Workers ────────────────────────────────────────────────────────────────

// WorkerFailures tracks workers that missed a task deadline.
var WorkerFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gridpool",
	Name:      "worker_failures_total",
	Help:      "Workers marked failed after missing a task deadline.",
})

// ─── Runs ───────────────────────────────────────────────────────────────────

// RunsTotal tracks finished runs by mode and status.
var RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gridpool",
	Name:      "runs_total",
	Help:      "Total runs by mode and final status.",
}, []string{"mode", "status"})

// RunDuration tracks wall-clock time per run.
var RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "gridpool",
	Name:      "run_duration_seconds",
	Help:      "Wall-clock duration of a run.",
	Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"mode"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "gridpool",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// RecordRun updates the run-level metrics for a finished run.
func RecordRun(rec domain.RunRecord) {
	RunsTotal.WithLabelValues(string(rec.Mode), string(rec.Status)).Inc()
	RunDuration.WithLabelValues(string(rec.Mode)).Observe(rec.Elapsed.Seconds())
}

// SchedulerObserver feeds scheduler events into the metrics above.
// It satisfies taskpool.Observer.
type SchedulerObserver struct{}

func (SchedulerObserver) TaskSent(_ domain.WorkerID, _ domain.Task, reassigned bool) {
	kind := "fresh"
	if reassigned {
		kind = "reassigned"
	}
	TasksDispatched.WithLabelValues(kind).Inc()
}

func (SchedulerObserver) ResultReceived(w domain.WorkerID, latency time.Duration) {
	ResultsReceived.WithLabelValues(strconv.Itoa(int(w))).Inc()
	TaskLatency.Observe(latency.Seconds())
}

func (SchedulerObserver) WorkerFailed(domain.WorkerID, domain.Task) {
	WorkerFailures.Inc()
}

func (SchedulerObserver) InFlight(n int) {
	TasksInFlight.Set(float64(n))
}
