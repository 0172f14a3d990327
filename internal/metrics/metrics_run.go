package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentsync_run_failed_total",
			Help: "Total number of sync runs that ended in the failed state",
		},
		[]string{"source"},
	)

	syncRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentsync_run_count_total",
			Help: "Total number of sync runs, by final state",
		},
		[]string{"source", "status"},
	)

	syncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentsync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	syncRunItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentsync_run_items_total",
			Help: "Content items touched by sync runs, by outcome",
		},
		[]string{"source", "outcome"}, // created, updated, deleted, unchanged, errored
	)

	lastSyncRunEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentsync_last_run_end_timestamp",
			Help: "Unix timestamp of when the last sync run for a source ended",
		},
		[]string{"source"},
	)
)

func SyncRunFinished(source, status string, started time.Time) {
	syncRunCount.WithLabelValues(source, status).Inc()
	syncRunDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())
	lastSyncRunEnd.WithLabelValues(source).SetToCurrentTime()
}

func SyncRunFailed(source string) {
	syncRunFailed.WithLabelValues(source).Inc()
}

func SyncRunItems(source, outcome string, n int) {
	if n > 0 {
		syncRunItems.WithLabelValues(source, outcome).Add(float64(n))
	}
}
