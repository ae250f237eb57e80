// SPDX-License-Identifier: MIT
package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	err := gauge.Write(metric)
	require.NoError(t, err)
	return metric.GetGauge().GetValue()
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	err := counter.Write(metric)
	require.NoError(t, err)
	return metric.GetCounter().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter := counterVec.WithLabelValues(labels...)
	return getCounterValue(t, counter)
}

func TestRecordSummarizeRun(t *testing.T) {
	initial := getCounterVecValue(t, SummarizeRunsTotal, OutcomeDone)
	RecordSummarizeRun(OutcomeDone, 3*time.Second)
	assert.Equal(t, initial+1, getCounterVecValue(t, SummarizeRunsTotal, OutcomeDone))
}

func TestRecordSummarizeRunNormalizesOutcome(t *testing.T) {
	initial := getCounterVecValue(t, SummarizeRunsTotal, "unknown")
	RecordSummarizeRun("exploded", time.Second)
	assert.Equal(t, initial+1, getCounterVecValue(t, SummarizeRunsTotal, "unknown"))
}

func TestIncChapterizeTier(t *testing.T) {
	initial := getCounterVecValue(t, ChapterizeTierTotal, "multishot_4k")
	IncChapterizeTier("multishot_4k")
	assert.Equal(t, initial+1, getCounterVecValue(t, ChapterizeTierTotal, "multishot_4k"))

	initialUnknown := getCounterVecValue(t, ChapterizeTierTotal, "unknown")
	IncChapterizeTier("")
	assert.Equal(t, initialUnknown+1, getCounterVecValue(t, ChapterizeTierTotal, "unknown"))
}

func TestAddChaptersPersisted(t *testing.T) {
	initial := getCounterValue(t, ChaptersPersistedTotal)
	AddChaptersPersisted(4)
	AddChaptersPersisted(0)
	AddChaptersPersisted(-2)
	assert.Equal(t, initial+4, getCounterValue(t, ChaptersPersistedTotal))
}

func TestIncLLMRequest(t *testing.T) {
	initial := getCounterVecValue(t, LLMRequestsTotal, "gpt-3.5-turbo", "200")
	IncLLMRequest("gpt-3.5-turbo", "200")
	assert.Equal(t, initial+1, getCounterVecValue(t, LLMRequestsTotal, "gpt-3.5-turbo", "200"))

	initialConnect := getCounterVecValue(t, LLMRequestsTotal, "gpt-3.5-turbo", "connect")
	IncLLMRequest("gpt-3.5-turbo", "connect")
	assert.Equal(t, initialConnect+1, getCounterVecValue(t, LLMRequestsTotal, "gpt-3.5-turbo", "connect"))
}

func TestIncLLMRetry(t *testing.T) {
	initial := getCounterVecValue(t, LLMRetriesTotal, "gpt-3.5-turbo-16k", "429")
	IncLLMRetry("gpt-3.5-turbo-16k", "429")
	assert.Equal(t, initial+1, getCounterVecValue(t, LLMRetriesTotal, "gpt-3.5-turbo-16k", "429"))
}

func TestObserveLLMDurationRecordsSeconds(t *testing.T) {
	hist, ok := LLMRequestDuration.WithLabelValues("gpt-duration-test").(prometheus.Metric)
	require.True(t, ok)

	ObserveLLMDuration("gpt-duration-test", 1500*time.Millisecond)

	metric := &dto.Metric{}
	require.NoError(t, hist.Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.5, metric.GetHistogram().GetSampleSum(), 1e-9)
}

func TestIncStoreOp(t *testing.T) {
	initialOK := getCounterVecValue(t, StoreOpsTotal, "replace", "ok")
	IncStoreOp("replace", nil)
	assert.Equal(t, initialOK+1, getCounterVecValue(t, StoreOpsTotal, "replace", "ok"))

	initialErr := getCounterVecValue(t, StoreOpsTotal, "replace", "error")
	IncStoreOp("replace", errors.New("locked"))
	assert.Equal(t, initialErr+1, getCounterVecValue(t, StoreOpsTotal, "replace", "error"))
}

func TestIncCaptionFetch(t *testing.T) {
	initial := getCounterVecValue(t, CaptionFetchTotal, "no_transcript")
	IncCaptionFetch("no_transcript")
	assert.Equal(t, initial+1, getCounterVecValue(t, CaptionFetchTotal, "no_transcript"))
}

func TestSSESubscriberGauge(t *testing.T) {
	initial := getGaugeValue(t, SSESubscribers)
	IncSSESubscribers()
	IncSSESubscribers()
	DecSSESubscribers()
	assert.Equal(t, initial+1, getGaugeValue(t, SSESubscribers))
}

func TestIncBusPublishedAndDropped(t *testing.T) {
	initialPub := getCounterVecValue(t, BusPublishedTotal, "summary")
	IncBusPublished("summary")
	assert.Equal(t, initialPub+1, getCounterVecValue(t, BusPublishedTotal, "summary"))

	initialDrop := getCounterVecValue(t, BusDroppedTotal, "full")
	IncBusDropped("full")
	assert.Equal(t, initialDrop+1, getCounterVecValue(t, BusDroppedTotal, "full"))
}
