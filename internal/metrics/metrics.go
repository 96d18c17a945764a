// Package metrics holds the Prometheus collectors shared by both services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts accepted transcription requests
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_jobs_enqueued_total",
		Help: "Total number of transcription jobs enqueued",
	})

	// JobsClaimed counts jobs moved from queued to processing
	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_jobs_claimed_total",
		Help: "Total number of transcription jobs claimed by a batch",
	})

	// JobOutcomes counts processing attempts by outcome (completed, retried, failed)
	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_job_outcomes_total",
		Help: "Transcription attempts by outcome",
	}, []string{"outcome"})

	// JobsReclaimed counts processing leases that expired
	JobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_jobs_reclaimed_total",
		Help: "Total number of jobs whose processing lease expired",
	})

	// TranscribeDuration observes speech-to-text call latency
	TranscribeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcription_stt_duration_seconds",
		Help:    "Latency of speech-to-text calls in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// BatchRuns counts batch passes by result (ok, error)
	BatchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_batch_runs_total",
		Help: "Batch processing passes by result",
	}, []string{"result"})

	// HTTPRequests counts HTTP requests by method, route and status
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes HTTP request latency by method and route
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Outcome label values
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)
