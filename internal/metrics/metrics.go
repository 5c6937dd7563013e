package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts decision matrix verdicts by lane.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_decisions_total",
			Help: "Total number of lane decisions by selected lane",
		},
		[]string{"lane"},
	)

	// LaneAttempts counts lane runs by outcome (success, escalate, fail).
	LaneAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_lane_attempts_total",
			Help: "Total number of lane runs by lane and outcome",
		},
		[]string{"lane", "outcome"},
	)

	LaneDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docfetch_lane_duration_seconds",
			Help:    "Duration of a single lane run",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"lane"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_escalations_total",
			Help: "Total number of escalations between lanes",
		},
		[]string{"from", "to"},
	)

	// Runs counts finished orchestrations by final lane and status.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_runs_total",
			Help: "Total number of acquisition runs by final lane and status",
		},
		[]string{"lane", "status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docfetch_run_duration_seconds",
			Help:    "End-to-end acquisition duration per email",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	DocumentsAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_documents_total",
			Help: "Total number of PDFs acquired by lane",
		},
		[]string{"lane"},
	)

	// AdvisorFallbacks counts remote advisor failures answered by the deterministic fallback.
	AdvisorFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_advisor_fallbacks_total",
			Help: "Total number of advisory calls that fell back to heuristics",
		},
		[]string{"advisor"},
	)

	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_webhook_requests_total",
			Help: "Total number of inbound webhook requests by result",
		},
		[]string{"result"},
	)

	QueueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_queue_jobs_total",
			Help: "Total number of queued jobs handled by workers by result",
		},
		[]string{"result"},
	)

	StoredDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfetch_stored_documents_total",
			Help: "Total number of documents written to the sink by backend and result",
		},
		[]string{"backend", "result"},
	)
)
