// Package metrics holds the run's Prometheus collectors. They are exported to
// a node-exporter textfile at the end of a run; no listener is started.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cookfarm"
)

var (
	// JobsDispatched counts jobs sent to workers or cooked serially
	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs handed to a cook",
		},
		[]string{"mode"}, // mode: parallel/serial
	)

	// JobsCompleted counts jobs a worker finished
	JobsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs observed complete",
		},
	)

	// Merges counts fragment merges
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Total number of worker fragments merged",
		},
		[]string{"reason"}, // reason: sync/drain
	)

	// MergedBytes counts payload bytes moved from private into authoritative stores
	MergedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_bytes_total",
			Help:      "Payload bytes appended to authoritative stores by merges",
		},
	)

	// WastedBytes tracks the authoritative table's waste counter
	WastedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wasted_bytes",
			Help:      "Bytes in authoritative stores no record points at",
		},
	)

	// Workers tracks running worker processes
	Workers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of worker processes currently running",
		},
	)

	// WorkerCrashes counts workers that exited without being stopped
	WorkerCrashes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Total number of worker processes that crashed",
		},
	)

	// DispatchWait measures how long a job waited for an idle worker
	DispatchWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_wait_seconds",
			Help:      "Time a job waited for an idle worker",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
	)
)

// RecordDispatch records one job handed out after waiting wait
func RecordDispatch(mode string, wait time.Duration) {
	JobsDispatched.WithLabelValues(mode).Inc()
	if mode == "parallel" {
		DispatchWait.Observe(wait.Seconds())
	}
}

// RecordMerge records a merge that moved bytes payload bytes
func RecordMerge(reason string, bytes int64) {
	Merges.WithLabelValues(reason).Inc()
	MergedBytes.Add(float64(bytes))
}

// WriteTextfile exports every registered collector to path in the text
// exposition format
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
