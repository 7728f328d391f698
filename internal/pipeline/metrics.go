package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_pipeline_runs_total",
		Help: "ProcessQuery outcomes by status.",
	}, []string{"status"})

	trendsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendwatch_trends_persisted_total",
		Help: "Trends committed by the pipeline.",
	})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendwatch_notifications_total",
		Help: "Trends handed to the notifier by result.",
	}, []string{"result"})

	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendwatch_fetch_retries_total",
		Help: "Content source attempts after the first one.",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trendwatch_cycle_duration_seconds",
		Help:    "Wall time of one background cycle.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
