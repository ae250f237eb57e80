// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Video attributes
	VideoIDKey       = "video.id"
	VideoLangKey     = "video.lang"
	VideoCaptionsKey = "video.captions"

	// Summarize attributes
	SummarizeTriggerKey  = "summarize.trigger"
	SummarizeTierKey     = "summarize.tier"
	SummarizeChaptersKey = "summarize.chapters"

	// LLM attributes
	LLMModelKey    = "llm.model"
	LLMStatusKey   = "llm.status"
	LLMAttemptsKey = "llm.attempts"

	// Job attributes
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// VideoAttributes creates video-related span attributes.
func VideoAttributes(vid, lang string, captions int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if vid != "" {
		attrs = append(attrs, attribute.String(VideoIDKey, vid))
	}
	if lang != "" {
		attrs = append(attrs, attribute.String(VideoLangKey, lang))
	}
	if captions > 0 {
		attrs = append(attrs, attribute.Int(VideoCaptionsKey, captions))
	}
	return attrs
}

// SummarizeAttributes creates summarize-related span attributes.
func SummarizeAttributes(trigger, tier string, chapters int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SummarizeTriggerKey, trigger),
		attribute.String(SummarizeTierKey, tier),
		attribute.Int(SummarizeChaptersKey, chapters),
	}
}

// LLMAttributes creates chat completion span attributes.
func LLMAttributes(model, status string, attempts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(LLMModelKey, model),
		attribute.String(LLMStatusKey, status),
		attribute.Int(LLMAttemptsKey, attempts),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
