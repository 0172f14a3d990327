package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gitFetchFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentsync_git_fetch_failed_total",
			Help: "Total number of failed git fetch operations",
		},
		[]string{"source"},
	)

	gitFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentsync_git_fetch_duration_seconds",
			Help:    "Git fetch duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.3, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"source", "repo"},
	)

	lastGitFetchEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentsync_last_git_fetch_end_timestamp",
			Help: "Unix timestamp of when the last git fetch ended",
		},
		[]string{"source", "repo"},
	)
)

func GitFetchSucceeded(source, repo string, started time.Time) {
	gitFetchDuration.WithLabelValues(source, repo).Observe(time.Since(started).Seconds())
	lastGitFetchEnd.WithLabelValues(source, repo).SetToCurrentTime()
}

func GitFetchFailed(source, _ string) {
	gitFetchFailed.WithLabelValues(source).Inc()
}
