// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SummarizeRunsTotal counts finished summarize jobs by outcome.
	// outcome ∈ {done, no_transcript, failed, canceled}
	SummarizeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_summarize_runs_total",
		Help: "Total number of finished summarize jobs, by outcome.",
	}, []string{"outcome"})

	// SummarizeDuration tracks end-to-end summarize job duration.
	SummarizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chapterd_summarize_duration_seconds",
		Help:    "End-to-end summarize job duration.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180, 300},
	}, []string{"outcome"})

	// ChapterizeTierTotal counts which chapterize tier produced the chapters.
	// tier ∈ {hint, multishot_4k, multishot_16k, one_by_one}
	ChapterizeTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_chapterize_tier_total",
		Help: "Total number of summarize runs settled per chapterize tier.",
	}, []string{"tier"})

	// ChaptersPersistedTotal counts chapter rows written to the store.
	ChaptersPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapterd_chapters_persisted_total",
		Help: "Total number of chapter rows persisted.",
	})

	// RefineFailuresTotal counts per-chapter refine failures that left a
	// chapter unrefined.
	RefineFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapterd_refine_failures_total",
		Help: "Total number of chapters whose refine step failed.",
	})
)

const (
	OutcomeDone         = "done"
	OutcomeNoTranscript = "no_transcript"
	OutcomeFailed       = "failed"
	OutcomeCanceled     = "canceled"
)

var knownOutcomes = map[string]struct{}{
	OutcomeDone:         {},
	OutcomeNoTranscript: {},
	OutcomeFailed:       {},
	OutcomeCanceled:     {},
}

// RecordSummarizeRun records a finished summarize job.
func RecordSummarizeRun(outcome string, duration time.Duration) {
	if _, ok := knownOutcomes[outcome]; !ok {
		outcome = "unknown"
	}
	SummarizeRunsTotal.WithLabelValues(outcome).Inc()
	SummarizeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncChapterizeTier records which cascade tier settled a run.
func IncChapterizeTier(tier string) {
	if tier == "" {
		tier = "unknown"
	}
	ChapterizeTierTotal.WithLabelValues(tier).Inc()
}

// AddChaptersPersisted records chapter rows written to the store.
func AddChaptersPersisted(n int) {
	if n > 0 {
		ChaptersPersistedTotal.Add(float64(n))
	}
}

// IncRefineFailure records a chapter left unrefined by a failed refine call.
func IncRefineFailure() {
	RefineFailuresTotal.Inc()
}
