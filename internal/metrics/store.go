// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOpsTotal counts chapter store operations by op and status.
	// op ∈ {find, replace, delete, feedback_find, feedback_upsert}
	StoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_store_ops_total",
		Help: "Total number of chapter store operations, by op and status.",
	}, []string{"op", "status"})

	// CaptionFetchTotal counts caption fetch attempts by result.
	// result ∈ {ok, no_transcript, disabled, error}
	CaptionFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_caption_fetch_total",
		Help: "Total number of caption fetch attempts, by result.",
	}, []string{"result"})
)

// IncStoreOp records a store operation outcome.
func IncStoreOp(op string, err error) {
	if op == "" {
		op = "unknown"
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOpsTotal.WithLabelValues(op, status).Inc()
}

// IncCaptionFetch records a caption fetch result.
func IncCaptionFetch(result string) {
	if result == "" {
		result = "unknown"
	}
	CaptionFetchTotal.WithLabelValues(result).Inc()
}
