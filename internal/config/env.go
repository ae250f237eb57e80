// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseString returns the trimmed value of an environment variable or the default.
func ParseString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

// ParseInt returns the integer value of an environment variable or the default.
func ParseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// ParseFloat returns the float value of an environment variable or the default.
func ParseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// ParseBool returns the boolean value of an environment variable or the default.
// Accepts the strconv.ParseBool forms (1, t, true, ...).
func ParseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// ParseDuration returns the duration value of an environment variable or the
// default. Plain integers are read as seconds, anything else must satisfy
// time.ParseDuration.
func ParseDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// ParseStringList splits a comma-separated environment variable, dropping
// empty entries, or returns the default.
func ParseStringList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// applyEnv overlays CHAPTERD_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Listen = ParseString("CHAPTERD_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("CHAPTERD_DATA", cfg.DataDir)
	cfg.RedisAddr = ParseString("CHAPTERD_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("CHAPTERD_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("CHAPTERD_REDIS_DB", cfg.RedisDB)
	cfg.MetricsAddr = ParseString("CHAPTERD_METRICS_ADDR", cfg.MetricsAddr)
	cfg.ExportDir = ParseString("CHAPTERD_EXPORT_DIR", cfg.ExportDir)
	cfg.LogLevel = ParseString("CHAPTERD_LOG_LEVEL", cfg.LogLevel)
	cfg.CORSOrigins = ParseStringList("CHAPTERD_CORS_ORIGINS", cfg.CORSOrigins)
	cfg.RateLimitRPM = ParseInt("CHAPTERD_RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.Workers = ParseInt("CHAPTERD_WORKERS", cfg.Workers)
	cfg.RefineConcurrency = ParseInt("CHAPTERD_REFINE_CONCURRENCY", cfg.RefineConcurrency)

	cfg.OpenAI.BaseURL = ParseString("CHAPTERD_OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.APIKey = ParseString("CHAPTERD_OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.ModelSmall = ParseString("CHAPTERD_OPENAI_MODEL_SMALL", cfg.OpenAI.ModelSmall)
	cfg.OpenAI.ModelLarge = ParseString("CHAPTERD_OPENAI_MODEL_LARGE", cfg.OpenAI.ModelLarge)
	cfg.OpenAI.RPS = ParseFloat("CHAPTERD_OPENAI_RPS", cfg.OpenAI.RPS)
	cfg.OpenAI.Burst = ParseInt("CHAPTERD_OPENAI_BURST", cfg.OpenAI.Burst)
	cfg.OpenAI.RetryAttempts = ParseInt("CHAPTERD_OPENAI_RETRY_ATTEMPTS", cfg.OpenAI.RetryAttempts)
	cfg.OpenAI.RetryWait = ParseDuration("CHAPTERD_OPENAI_RETRY_WAIT", cfg.OpenAI.RetryWait)
	cfg.OpenAI.ControlTimeout = ParseDuration("CHAPTERD_OPENAI_CONTROL_TIMEOUT", cfg.OpenAI.ControlTimeout)
	cfg.OpenAI.SummarizeTimeout = ParseDuration("CHAPTERD_OPENAI_SUMMARIZE_TIMEOUT", cfg.OpenAI.SummarizeTimeout)

	cfg.Summary.SummarizingTTL = ParseDuration("CHAPTERD_SUMMARIZING_TTL", cfg.Summary.SummarizingTTL)
	cfg.Summary.NoTranscriptTTL = ParseDuration("CHAPTERD_NO_TRANSCRIPT_TTL", cfg.Summary.NoTranscriptTTL)
	cfg.Summary.SubscribeIdleTimeout = ParseDuration("CHAPTERD_SUBSCRIBE_IDLE_TIMEOUT", cfg.Summary.SubscribeIdleTimeout)
	cfg.Summary.TopPDeterministic = ParseFloat("CHAPTERD_TOP_P_DETERMINISTIC", cfg.Summary.TopPDeterministic)
	cfg.Summary.TopPFreeForm = ParseFloat("CHAPTERD_TOP_P_FREE_FORM", cfg.Summary.TopPFreeForm)
	cfg.Summary.Languages = ParseStringList("CHAPTERD_LANGS", cfg.Summary.Languages)

	cfg.Tracing.Enabled = ParseBool("CHAPTERD_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = ParseString("CHAPTERD_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = ParseString("CHAPTERD_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = ParseFloat("CHAPTERD_TRACING_SAMPLING", cfg.Tracing.SamplingRate)
}
