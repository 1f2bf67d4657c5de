// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agora"

var (
	VotesCast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "cast_total",
		Help:      "Votes accepted into the vote buffer",
	})

	VotesSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "stale_total",
		Help:      "Vote casts ignored because a newer cast for the same pair was already queued",
	})

	VotesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "flushed_total",
		Help:      "Votes durably written by flush cycles",
	})

	VotesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "discarded_total",
		Help:      "Queued vote entries dropped because they could not be decoded",
	})

	VoteFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "flush_failures_total",
		Help:      "Flush cycles whose relational write failed",
	})

	VotesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "in_flight",
		Help:      "Votes popped from the queue and not yet durably written",
	})

	VoteFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "votes",
		Name:      "flush_duration_seconds",
		Help:      "Duration of vote flush cycles that wrote at least one vote",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	MathRecomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "math",
		Name:      "recomputations_total",
		Help:      "Consensus recomputations by result",
	}, []string{"result"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Jobs that reached a terminal status",
	}, []string{"kind", "status", "reason"})

	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Job submissions by admission result",
	}, []string{"kind", "result"})

	JobsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "reaped_total",
		Help:      "Stale processing jobs failed by the reaper",
	}, []string{"kind"})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open notification websocket connections",
	})

	LiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "dropped_total",
		Help:      "Connections closed because they fell behind",
	})
)
