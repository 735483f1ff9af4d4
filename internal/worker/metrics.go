package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	// tasksTotal counts finished tasks by outcome: ok, error, timeout, canceled, panic.
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_tasks_total",
			Help: "Total number of background ingest tasks by outcome.",
		},
		[]string{"outcome"},
	)

	// taskDuration covers OCR and transcription calls, so buckets reach minutes.
	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_task_duration_seconds",
			Help:    "Duration of background ingest tasks in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Tasks waiting for a worker.",
		},
	)

	tasksInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_tasks_inflight",
			Help: "Tasks currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal, taskDuration, queueDepth, tasksInflight)
}
