package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by method, route, and status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abap_agent_requests_total",
		Help: "Total HTTP requests processed.",
	}, []string{"method", "path", "status"})

	// BackendDuration tracks end-to-end latency of a backend submission.
	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "abap_agent_backend_duration_seconds",
		Help:    "Time spent waiting on the code-generation backend.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"backend", "outcome"})

	// RunPolls tracks how many status polls a run needed.
	RunPolls = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "abap_agent_run_polls",
		Help:    "Number of run status polls per assistant run.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
	})

	// RunsTotal counts finished assistant runs by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abap_agent_runs_total",
		Help: "Assistant runs by final outcome.",
	}, []string{"outcome"})

	// WorkflowCallsTotal counts webhook submissions by outcome.
	WorkflowCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abap_agent_workflow_calls_total",
		Help: "Workflow webhook submissions by outcome.",
	}, []string{"outcome"})

	// UploadBytes tracks the size distribution of uploaded files.
	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "abap_agent_upload_bytes",
		Help:    "Size of uploaded files in bytes.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	// BackendAvailable tracks whether the configured backend answered its last probe.
	BackendAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "abap_agent_backend_available",
		Help: "Whether the backend is available (1) or not (0).",
	}, []string{"backend"})
)
