// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequestsTotal counts chat completion attempts by model and status.
	// status is the HTTP status code, or "connect" for transport failures.
	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_llm_requests_total",
		Help: "Total number of chat completion requests, by model and status.",
	}, []string{"model", "status"})

	// LLMRetriesTotal counts retried chat completion attempts.
	// reason ∈ {429, 502, connect}
	LLMRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_llm_retries_total",
		Help: "Total number of retried chat completion requests, by model and reason.",
	}, []string{"model", "reason"})

	// LLMRequestDuration tracks chat completion latency per model.
	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chapterd_llm_request_duration_seconds",
		Help:    "Chat completion request latency.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	}, []string{"model"})
)

// IncLLMRequest records a chat completion attempt.
func IncLLMRequest(model, status string) {
	if model == "" {
		model = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	LLMRequestsTotal.WithLabelValues(model, status).Inc()
}

// IncLLMRetry records a retried chat completion attempt.
func IncLLMRetry(model, reason string) {
	if model == "" {
		model = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	LLMRetriesTotal.WithLabelValues(model, reason).Inc()
}

// ObserveLLMDuration records chat completion latency for a model.
func ObserveLLMDuration(model string, duration time.Duration) {
	if model == "" {
		model = "unknown"
	}
	LLMRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}
