// Package metrics exposes Prometheus instrumentation for the background
// job engine and the synchronizer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns counts job executions by key and terminal status.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shiro",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job executions by key and terminal status.",
	}, []string{"job", "status"})

	// JobDuration observes wall-clock job durations.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shiro",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Background job durations in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
	}, []string{"job"})

	// PostsScanned counts files examined by library syncs.
	PostsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shiro",
		Subsystem: "sync",
		Name:      "files_scanned_total",
		Help:      "Files examined across all library syncs.",
	})

	// DuplicateGroupsDetected counts groups written by detection runs.
	DuplicateGroupsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shiro",
		Subsystem: "duplicates",
		Name:      "groups_detected_total",
		Help:      "Duplicate groups written by detection runs, by type.",
	}, []string{"type"})
)
